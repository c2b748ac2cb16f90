// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package errors defines the taxonomy of errors the metadata client core
// can produce. Kinds are distinguished by Is/As, not by string matching.
package errors

import "errors"

// Kind classifies why a request or session operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientMap
	KindSessionNotReady
	KindTimeout
	KindForwarded
	KindProtocolError
	KindStaleHandle
	KindRemoteError
	KindResourceExhaustion
	KindShutdownInProgress
)

func (k Kind) String() string {
	switch k {
	case KindTransientMap:
		return "transient_map"
	case KindSessionNotReady:
		return "session_not_ready"
	case KindTimeout:
		return "timeout"
	case KindForwarded:
		return "forwarded"
	case KindProtocolError:
		return "protocol_error"
	case KindStaleHandle:
		return "stale_handle"
	case KindRemoteError:
		return "remote_error"
	case KindResourceExhaustion:
		return "resource_exhaustion"
	case KindShutdownInProgress:
		return "shutdown_in_progress"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. The zero value is not usable; build one
// with New or Wrap.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, errors.StaleHandle) without caring about message text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

// Sentinel instances usable with errors.Is; their message text is
// informational only, matching Kind is what counts.
var (
	TransientMap       = New(KindTransientMap, "no mds currently satisfies the target")
	SessionNotReady    = New(KindSessionNotReady, "session not open or hung")
	Timeout            = New(KindTimeout, "request timed out locally")
	Forwarded          = New(KindForwarded, "request was forwarded")
	ProtocolError      = New(KindProtocolError, "malformed protocol message")
	StaleHandle        = New(KindStaleHandle, "stale file handle")
	RemoteError        = New(KindRemoteError, "mds returned an error")
	ResourceExhaustion = New(KindResourceExhaustion, "resource exhausted")
	ShutdownInProgress = New(KindShutdownInProgress, "client is shutting down")
)

// Unrelated, ambient sentinels used outside the taxonomy proper.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("closed")
)

// Is is a thin re-export of the standard library's errors.Is so callers only
// need to import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a thin re-export of the standard library's errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
