// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command watlow-sim serves a simulated EZ-Zone Modbus TCP gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/internal/logging"
	"github.com/ffutop/watlow/internal/simulator"
	"github.com/ffutop/watlow/transport/tcp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	flags := pflag.NewFlagSet("watlow-sim", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	configFile := flags.StringP("config", "c", "", "Path to config file")
	flags.String("listen", "", "Modbus TCP listen address")
	flags.Int("zones", 0, "Number of simulated zones")
	flags.Duration("interval", 0, "Plant step interval, 0 freezes the plant")
	flags.String("store", "", "Register image storage (memory, mmap)")
	flags.String("store-path", "", "Register image file for mmap storage")
	flags.Int("offset", 0, "Register distance between zones")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json, console)")
	flags.String("log-file", "", "Log file, stderr when empty")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	closeLog := logging.Setup(cfg.Log, stderr)
	defer closeLog()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("Simulator stopped with error", "err", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config) (err error) {
	sim, err := simulator.New(cfg.Simulator, cfg.Gateway.ModbusOffset)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sim.Close(); cerr != nil {
			slog.Error("Failed to persist register image", "err", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	server := tcp.NewServer(cfg.Simulator.Address, sim.Handle)
	if err := server.Listen(); err != nil {
		return err
	}
	slog.Info("Starting EZ-Zone gateway simulator...", "addr", server.Addr(), "zones", cfg.Simulator.Zones)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		errs[0] = server.Serve(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		errs[1] = sim.Run(ctx)
	}()
	wg.Wait()

	slog.Info("Goodbye.")
	return errors.Join(errs...)
}
