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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/cubefs/mdsclient/client"
)

// Config is the mdsclientd process config, loaded via blobstore/common/config
// the same way the teacher's cmd.go loads its server Config.
type Config struct {
	client.Config

	LogLevel log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "mdsclientd.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}
	if cfg.MonitorAddr == "" {
		log.Fatal("monitor_addr must be set")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.MountTimeout <= 0 {
		cfg.MountTimeout = 30 * time.Second
	}
	log.SetOutputLevel(cfg.LogLevel)

	c := client.New(cfg.Config)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MountTimeout+5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		log.Errorf("shutdown: %s", err)
	}
}
