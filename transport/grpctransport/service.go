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

package grpctransport

import (
	"google.golang.org/grpc"
)

const (
	serviceName = "mdsclient.Messenger"
	methodName  = "Exchange"
	fullMethod  = "/" + serviceName + "/" + methodName
)

// exchangeHandler adapts a bidi-streaming handler function to the
// grpc.StreamDesc.Handler signature, letting us register the service
// without protoc-generated server code.
func exchangeHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(streamHandler).Exchange(stream)
}

// streamHandler is implemented by whatever is registered as the service
// under serviceDesc; Server in server.go is the one real implementation.
type streamHandler interface {
	Exchange(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*streamHandler)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodName,
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mdsclient/transport.proto",
}
