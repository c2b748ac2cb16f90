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

// Package client is the top-level façade a mount process embeds: it wires
// a transport.Dialer and a monitor address into a Coordinator, mirroring
// the teacher's master.Master constructor-composition style (a Config of
// sub-configs, a single exported type assembled by one constructor).
package client

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"google.golang.org/grpc"

	"github.com/cubefs/mdsclient/coordinator"
	"github.com/cubefs/mdsclient/mapsource"
	"github.com/cubefs/mdsclient/transport/grpctransport"
)

// Config assembles everything a Client needs to reach a cluster.
type Config struct {
	// MonitorAddr is the monitor's dial address, used to fetch MDS maps.
	MonitorAddr string `json:"monitor_addr"`

	// TickInterval and MountTimeout pass through to coordinator.Config.
	TickInterval     time.Duration `json:"tick_interval"`
	MountTimeout     time.Duration `json:"mount_timeout"`
	ReleaseBatchSize int           `json:"release_batch_size"`

	DialOptions []grpc.DialOption `json:"-"`
}

// Client is one mount's metadata-client core: a Coordinator plus the
// monitor-facing map Source that feeds it.
type Client struct {
	*coordinator.Coordinator

	Source *mapsource.GRPCSource
	dialer *grpctransport.Dialer
}

// New builds a Client and issues the initial RequestMap so the first
// MDS_MAP arrives without waiting for the periodic tick to ask, grounded
// on the teacher's NewMaster eagerly wiring every sub-collaborator before
// returning.
func New(cfg Config) *Client {
	span, ctx := trace.StartSpanFromContext(context.Background(), "")

	dialer := grpctransport.NewDialer(cfg.DialOptions...)

	c := &Client{dialer: dialer}

	co := coordinator.New(coordinator.Config{
		TickInterval:     cfg.TickInterval,
		MountTimeout:     cfg.MountTimeout,
		ReleaseBatchSize: cfg.ReleaseBatchSize,
		Dialer:           dialer,
	})
	c.Coordinator = co

	source := mapsource.NewGRPCSource(cfg.MonitorAddr, dialer, co.HandleMap)
	c.Source = source
	co.SetSource(mapsource.NewDedup(source))

	if err := source.RequestMap(ctx, 0); err != nil {
		span.Warnf("initial map request to %s failed: %s", cfg.MonitorAddr, err)
	}

	return c
}

// Close runs the two-phase shutdown (spec.md §4.5), which closes every
// session's peer. The map source's monitor connection is not closed.
func (c *Client) Close(ctx context.Context) error {
	if err := c.PreUmount(ctx); err != nil {
		return err
	}
	c.CloseSessions(ctx)
	return nil
}
