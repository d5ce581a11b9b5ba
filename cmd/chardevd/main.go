/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command chardevd serves one shared fixed-capacity buffer over a unix or TCP
// socket, and optionally over gRPC, with an HTTP admin endpoint for probes,
// metrics and debugging.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/srediag/plugin-chardev/internal/admin"
	"github.com/srediag/plugin-chardev/internal/health"
	"github.com/srediag/plugin-chardev/internal/journal"
	"github.com/srediag/plugin-chardev/internal/logging"
	"github.com/srediag/plugin-chardev/internal/metrics"
	"github.com/srediag/plugin-chardev/pkg/chardev"
	"github.com/srediag/plugin-chardev/pkg/config"
	"github.com/srediag/plugin-chardev/pkg/transport"
	"github.com/srediag/plugin-chardev/pkg/transport/grpcsvc"
)

const (
	instrumentationName = "github.com/srediag/plugin-chardev"
	shutdownTimeout     = 5 * time.Second
)

type options struct {
	cfg   *config.Config
	pprof bool
}

func main() {
	log := logging.New("chardevd", os.Stderr)
	opts, err := loadOptions(os.Args[1:], os.LookupEnv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Errorf("%v", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// loadOptions resolves the configuration: defaults, then CHARDEV_* variables,
// then flags.
func loadOptions(args []string, lookup func(string) (string, bool), stderr io.Writer) (options, error) {
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return options{}, err
	}

	opts := options{cfg: cfg}
	fs := flag.NewFlagSet("chardevd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "buffer capacity in bytes")
	fs.StringVar(&cfg.Network, "network", cfg.Network, "socket network: unix, tcp, tcp4 or tcp6")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "socket path or host:port")
	fs.StringVar(&cfg.GRPCAddress, "grpc", cfg.GRPCAddress, "gRPC listen address (empty disables)")
	fs.StringVar(&cfg.AdminAddress, "admin", cfg.AdminAddress, "admin HTTP listen address (empty disables)")
	fs.IntVar(&cfg.MaxHandles, "max-handles", cfg.MaxHandles, "maximum open socket handles")
	fs.IntVar(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "maximum request payload in bytes")
	fs.DurationVar(&cfg.IOTimeout, "io-timeout", cfg.IOTimeout, "response write timeout")
	fs.IntVar(&cfg.JournalSize, "journal", cfg.JournalSize, "number of journal entries kept")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn, error or none")
	fs.BoolVar(&opts.pprof, "pprof", false, "serve /debug/pprof on the admin address")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := config.VerifyConfig(cfg); err != nil {
		return options{}, fmt.Errorf("invalid config: %w", err)
	}
	return opts, nil
}

// run serves until ctx is done or a listener fails.
func run(ctx context.Context, opts options, log *logging.Logger) error {
	cfg := opts.cfg
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	j := journal.New(cfg.JournalSize)
	defer j.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg, cfg.Capacity)
	if err != nil {
		return err
	}

	buf, err := chardev.New(chardev.Options{
		Capacity: cfg.Capacity,
		Logger:   log.Named("buffer"),
		Observer: chardev.Observers(j, m),
		Meter:    otel.Meter(instrumentationName),
		Tracer:   otel.Tracer(instrumentationName),
	})
	if err != nil {
		return err
	}

	srv, err := transport.NewServer(buf, transport.ServerOptions{
		MaxHandles:   cfg.MaxHandles,
		MaxFrameSize: cfg.MaxFrameSize,
		IOTimeout:    cfg.IOTimeout,
		Logger:       log.Named("socket"),
		Recorder:     m,
		Journal:      j,
	})
	if err != nil {
		return err
	}
	ln, err := srv.Listen(cfg.Network, cfg.Address)
	if err != nil {
		_ = srv.Close()
		return fmt.Errorf("listen %s %s: %w", cfg.Network, cfg.Address, err)
	}
	if cfg.Network == "unix" {
		defer os.Remove(cfg.Address)
	}

	errc := make(chan error, 3)
	go func() { errc <- srv.Serve(ln) }()
	defer srv.Close()

	if cfg.GRPCAddress != "" {
		gln, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddress, err)
		}
		gs := grpcsvc.NewServer(buf, grpcsvc.Options{Logger: log.Named("grpc"), Recorder: m})
		go func() { errc <- gs.Serve(gln) }()
		defer stopGRPC(gs.GracefulStop, gs.Stop)
		log.Infof("grpc listening on %s", gln.Addr())
	}

	if cfg.AdminAddress != "" {
		socketPath := ""
		if cfg.Network == "unix" {
			socketPath = cfg.Address
		}
		hs := admin.NewServer(cfg.AdminAddress, admin.NewHandler(admin.Options{
			Health:   health.NewHandler(health.Options{Server: srv, SocketPath: socketPath}),
			Gatherer: reg,
			Journal:  j,
			Handles:  srv.Handles,
			Logger:   log.Named("admin"),
			Pprof:    opts.pprof,
		}))
		go func() {
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("admin: %w", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := hs.Shutdown(sctx); err != nil {
				log.Warnf("admin shutdown: %v", err)
			}
		}()
		log.Infof("admin listening on %s", cfg.AdminAddress)
	}

	j.Record("daemon", "started with capacity %d on %s %s", cfg.Capacity, cfg.Network, ln.Addr())
	select {
	case <-ctx.Done():
		log.Infof("shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

// stopGRPC drains in-flight calls, forcing the stop after shutdownTimeout.
func stopGRPC(graceful, force func()) {
	done := make(chan struct{})
	go func() {
		graceful()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		force()
		<-done
	}
}
