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

package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "MDSClient"

var (
	Registry = prometheus.NewRegistry()

	GRPCClientMetrics = grpcprometheus.NewClientMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = namespace
		},
	)

	RequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "request",
		Name:      "latency_seconds",
		Help:      "time from submit to completion (unsafe reply), by op",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	RequestOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "request",
		Name:      "outcomes_total",
		Help:      "terminal request outcomes by kind",
	}, []string{"outcome"})

	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "state",
		Help:      "1 if the session for this mds rank is currently in this state",
	}, []string{"mds_rank", "state"})

	CapsHeld = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cap",
		Name:      "held",
		Help:      "number of caps currently held per session",
	}, []string{"mds_rank"})

	CapRevokeFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cap",
		Name:      "revoke_flushes_total",
		Help:      "number of times a revoke forced a dirty-bit flush before ack",
	}, []string{"mds_rank"})
)

func init() {
	Registry.MustRegister(
		GRPCClientMetrics,
		RequestLatency,
		RequestOutcomes,
		SessionState,
		CapsHeld,
		CapRevokeFlushes,
	)
}
