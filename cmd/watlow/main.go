// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command watlow reads, and optionally writes the setpoint of, one Watlow
// EZ-Zone controller and prints the reading as JSON.
//
//	watlow [address] [flags]
//
// Without --zone the address is a serial device, with --zone it is the
// host of an EZ-Zone Modbus TCP gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/internal/gateway"
	"github.com/ffutop/watlow/internal/logging"
	"github.com/ffutop/watlow/transport/serial"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	address  string
	zone     int // 0 selects the serial controller
	setpoint *float64
	mock     bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("watlow", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: watlow [address] [flags]\n\n")
		flags.PrintDefaults()
	}

	configFile := flags.StringP("config", "c", "", "Path to config file")
	zoneArg := flags.StringP("zone", "z", "", "Gateway zone, 1-based; selects the Modbus TCP gateway")
	setpoint := flags.Float64P("set-setpoint", "f", 0, "New setpoint in Celsius, written before reading")
	mock := flags.Bool("mock", false, "Use the in-process mock instead of a device")
	flags.Duration("timeout", 0, "Per-request timeout")
	flags.Int("retries", 0, "Serial write/read cycles per exchange")
	flags.Float64("max-temp", 0, "Upper setpoint bound in Celsius")
	flags.Int("offset", 0, "Register distance between gateway zones")
	flags.Uint8("slave-id", 0, "Gateway unit identifier")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json, console)")
	flags.String("log-file", "", "Log file, stderr when empty")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() > 1 {
		fmt.Fprintf(stderr, "expected at most one address, got %d\n", flags.NArg())
		return exitUsage
	}

	opts := options{address: flags.Arg(0), mock: *mock}
	if flags.Changed("zone") {
		zone, err := parseZone(*zoneArg)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitUsage
		}
		opts.zone = zone
	}
	if flags.Changed("set-setpoint") {
		opts.setpoint = setpoint
	}

	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitError
	}
	closeLog := logging.Setup(cfg.Log, stderr)
	defer closeLog()

	reading, err := query(ctx, cfg, opts)
	if err != nil {
		slog.Error("Request failed", "err", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	out, err := json.MarshalIndent(reading, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	fmt.Fprintln(stdout, string(out))
	return exitOK
}

func parseZone(arg string) (int, error) {
	zone, err := strconv.Atoi(arg)
	if err != nil || zone < 1 {
		return 0, fmt.Errorf("%w: %q, zones are 1-based integers", ezzone.ErrInvalidZone, arg)
	}
	return zone, nil
}

// query dispatches to the driver selected by opts and returns a value
// suitable for JSON output.
func query(ctx context.Context, cfg *config.Config, opts options) (any, error) {
	switch {
	case opts.mock:
		zone := max(opts.zone, 1)
		return poll(ctx, gateway.NewMock(cfg.Gateway.MaxTemp), zone, opts.setpoint)

	case opts.zone > 0:
		if opts.address != "" {
			cfg.Gateway.Address = config.GatewayAddress(opts.address)
		}
		if cfg.Gateway.Address == "" {
			return nil, errors.New("no gateway address given")
		}
		var reading gateway.Reading
		err := gateway.New(cfg.Gateway).Session(ctx, func(ctx context.Context, g *gateway.Gateway) error {
			var err error
			reading, err = poll(ctx, g, opts.zone, opts.setpoint)
			return err
		})
		return reading, err

	default:
		if opts.address != "" {
			cfg.Serial.Device = opts.address
		}
		c := serial.NewController(cfg.Serial)
		defer c.Close()
		if opts.setpoint != nil {
			if err := c.Set(ctx, *opts.setpoint); err != nil {
				return nil, err
			}
		}
		return c.Get(ctx)
	}
}

func poll(ctx context.Context, d gateway.Driver, zone int, setpoint *float64) (gateway.Reading, error) {
	if setpoint != nil {
		if err := d.SetSetpoint(ctx, zone, *setpoint); err != nil {
			return gateway.Reading{}, err
		}
	}
	return d.Get(ctx, zone)
}
