/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-pal-bridge/internal/bridge"
	"github.com/loqalabs/loqa-pal-bridge/internal/config"
	"github.com/loqalabs/loqa-pal-bridge/internal/hal"
	"github.com/loqalabs/loqa-pal-bridge/internal/hal/pal"
	"github.com/loqalabs/loqa-pal-bridge/internal/host"
	"github.com/loqalabs/loqa-pal-bridge/internal/logging"
	natsctl "github.com/loqalabs/loqa-pal-bridge/internal/nats"
	"github.com/loqalabs/loqa-pal-bridge/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}

func newBackend(name string) (hal.Backend, error) {
	switch name {
	case config.BackendMock:
		return hal.NewMockBackend(), nil
	case config.BackendPortAudio:
		return hal.NewPortAudioBackend(), nil
	case config.BackendPAL:
		if err := pal.Load(); err != nil {
			return nil, fmt.Errorf("failed to load PAL client library: %w", err)
		}
		return pal.NewBackend(), nil
	}
	return nil, fmt.Errorf("unknown backend: %s", name)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openInput(path string, stdin io.Reader) (io.Reader, io.Closer, error) {
	if path == "-" {
		return stdin, nopCloser{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, f, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, io.Closer, error) {
	if path == "-" {
		return stdout, nopCloser{}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, f, nil
}

// run wires a local host endpoint to a HAL backend through one bridge and streams until
// ctx ends, the duration elapses, the input is exhausted, or the bridge asks for teardown.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Parse("pal-bridge", args)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	logFormat := logging.FormatText
	if cfg.LogFormat == "json" {
		logFormat = logging.FormatJSON
	}
	logging.Configure(stderr, logFormat)
	logger := log.New(stderr, "", log.LstdFlags)

	props := cfg.Properties
	config.ApplyDefaults(props, uint32(os.Getpid()), uint32(cfg.ModuleID)) //nolint:gosec // G115: pid and module id fit
	streamProps, err := config.StreamProperties(props)
	if err != nil {
		return err
	}
	plan, err := bridge.NewPlan(props, streamProps)
	if err != nil {
		return err
	}

	backend, err := newBackend(cfg.Backend)
	if err != nil {
		return err
	}
	logger.Printf("🎛️  Using %s backend for %s", cfg.Backend, plan)

	localCfg := host.LocalConfig{}
	if plan.Playback() {
		in, closer, err := openInput(cfg.Input, stdin)
		if err != nil {
			return err
		}
		defer closer.Close() //nolint:errcheck
		if cfg.Framed {
			fr := transport.NewReader(in)
			info, err := fr.ReadFormat()
			if err != nil {
				return fmt.Errorf("failed to read input format: %w", err)
			}
			if info.Format != plan.Info.Format || info.Rate != plan.Info.Rate || info.Channels != plan.Info.Channels {
				return fmt.Errorf("%w: input is %s %dHz %dch, stream is %s %dHz %dch", bridge.ErrConfiguration,
					info.Format, info.Rate, info.Channels, plan.Info.Format, plan.Info.Rate, plan.Info.Channels)
			}
			in = fr
		}
		localCfg.Source = in
	} else {
		out, closer, err := openOutput(cfg.Output, stdout)
		if err != nil {
			return err
		}
		defer closer.Close() //nolint:errcheck
		if cfg.Framed {
			fw := transport.NewWriter(out, plan.Info)
			defer func() {
				if err := fw.Close(); err != nil {
					logger.Printf("⚠️  Failed to finish framed output: %v", err)
				}
			}()
			out = fw
		}
		localCfg.Sink = out
	}
	endpoint := host.NewLocal(localCfg)

	var opts []bridge.Option
	var conn *natsctl.ConnectionAdapter
	if cfg.NATSURL != "" {
		conn, err = natsctl.Connect(cfg.NATSURL, plan.Name, logging.For(logging.ComponentNATS))
		if err != nil {
			return err
		}
		defer conn.Close()
		opts = append(opts, bridge.WithObserver(natsctl.NewStatePublisher(conn)))
	}

	b, err := bridge.New(props, streamProps, endpoint, hal.NewService(backend), opts...)
	if err != nil {
		return err
	}
	defer b.Destroy() //nolint:errcheck

	if conn != nil {
		vc := natsctl.NewVolumeControl(conn, b.Name(), b)
		if err := vc.Start(); err != nil {
			return err
		}
		defer vc.Stop()
	}

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	logger.Printf("🚀 Starting %s", b.Name())
	endpoint.Activate()

	runErr := make(chan error, 1)
	go func() { runErr <- endpoint.Run(runCtx) }()

	var loopErr error
	select {
	case <-ctx.Done():
		logger.Printf("🛑 Stopping")
		cancelRun()
		loopErr = <-runErr
	case <-endpoint.Drained():
		logger.Printf("📭 Input exhausted")
		cancelRun()
		loopErr = <-runErr
	case <-endpoint.Done():
		cancelRun()
		loopErr = <-runErr
	case loopErr = <-runErr:
	}
	if errors.Is(loopErr, context.Canceled) || errors.Is(loopErr, context.DeadlineExceeded) {
		loopErr = nil
	}

	failed := b.State() == bridge.StateError
	endpoint.Pause()
	endpoint.Disconnect()
	endpoint.Destroy()
	if err := b.Destroy(); err != nil {
		logger.Printf("⚠️  Teardown incomplete: %v", err)
	}

	st := b.Stats()
	logger.Printf("📊 %d cycles, %d bytes, %d I/O errors", st.Cycles, st.Bytes, st.IOErrors)

	if failed {
		return fmt.Errorf("hal stream failed to start on %s", plan.Device)
	}
	return loopErr
}
