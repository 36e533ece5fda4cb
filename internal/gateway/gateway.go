// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package gateway drives Watlow EZ-Zone controllers through the EZ-Zone
// Modbus TCP gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/modbus"
	"github.com/ffutop/watlow/temperature"
	"github.com/ffutop/watlow/transport/tcp"
)

// MinSetpoint is the lower setpoint bound, Celsius.
const MinSetpoint = 10

// Driver is the capability set shared by the gateway driver and Mock.
type Driver interface {
	Get(ctx context.Context, zone int) (Reading, error)
	SetSetpoint(ctx context.Context, zone int, setpoint float64) error
	Close() error
}

// Reading is one snapshot of a zone. A field is nil when it could not be
// read.
type Reading struct {
	Actual   *float64 `json:"actual"`
	Output   *float64 `json:"output"`
	Setpoint *float64 `json:"setpoint"`
}

func (r *Reading) set(field ezzone.Field, v *float64) {
	switch field {
	case ezzone.Actual:
		r.Actual = v
	case ezzone.Setpoint:
		r.Setpoint = v
	case ezzone.Output:
		r.Output = v
	}
}

// Gateway is a Driver over one Modbus TCP gateway.
type Gateway struct {
	client *tcp.Client
	offset int

	// Range bounds every setpoint write, Celsius.
	Range temperature.Range
}

var _ Driver = (*Gateway)(nil)

// New creates a Gateway and starts connecting in the background.
func New(cfg config.GatewayConfig, opts ...tcp.Option) *Gateway {
	offset := cfg.ModbusOffset
	if offset == 0 {
		offset = ezzone.DefaultOffset
	}
	maxTemp := cfg.MaxTemp
	if maxTemp == 0 {
		maxTemp = 220
	}

	opts = append([]tcp.Option{tcp.WithTimeout(cfg.Timeout), tcp.WithSlaveID(cfg.SlaveID)}, opts...)
	return &Gateway{
		client: tcp.NewClient(config.GatewayAddress(cfg.Address), opts...),
		offset: offset,
		Range:  temperature.Range{Min: MinSetpoint, Max: maxTemp},
	}
}

// Wait blocks until the initial connection attempt resolved.
func (g *Gateway) Wait(ctx context.Context) error {
	return g.client.Wait(ctx)
}

// State returns the link state.
func (g *Gateway) State() tcp.ConnState {
	return g.client.State()
}

// Reconnect replaces a lost or failed link.
func (g *Gateway) Reconnect(ctx context.Context) error {
	return g.client.Reconnect(ctx)
}

// Close closes the connection to the gateway.
func (g *Gateway) Close() error {
	return g.client.Close()
}

// Session waits for the gateway, runs fn and always closes the connection.
func (g *Gateway) Session(ctx context.Context, fn func(ctx context.Context, g *Gateway) error) error {
	return g.client.Session(ctx, func(ctx context.Context, _ *tcp.Client) error {
		return fn(ctx, g)
	})
}

// Get reads the actual temperature, setpoint and output of zone. A field
// answered with a Modbus exception or a short payload is reported as nil;
// timeouts and connection errors fail the whole reading.
func (g *Gateway) Get(ctx context.Context, zone int) (Reading, error) {
	addrs := make([]uint16, len(ezzone.Fields))
	for i, field := range ezzone.Fields {
		addr, err := ezzone.Address(zone, g.offset, field)
		if err != nil {
			return Reading{}, err
		}
		addrs[i] = addr
	}

	var reading Reading
	for i, field := range ezzone.Fields {
		v, err := g.readFloat(ctx, addrs[i])
		if err != nil {
			if !fieldError(err) {
				return Reading{}, err
			}
			slog.Warn("failed to read zone field", "zone", zone, "field", field, "address", addrs[i], "err", err)
			continue
		}
		reading.set(field, &v)
	}
	return reading, nil
}

// SetSetpoint writes the setpoint of zone, in Celsius.
func (g *Gateway) SetSetpoint(ctx context.Context, zone int, setpoint float64) error {
	if err := g.Range.Check(setpoint); err != nil {
		return err
	}
	addr, err := ezzone.Address(zone, g.offset, ezzone.Setpoint)
	if err != nil {
		return err
	}

	slog.Debug("writing setpoint", "zone", zone, "address", addr, "setpoint", setpoint)
	if err := g.client.WriteFloats(ctx, addr, []float32{float32(setpoint)}); err != nil {
		return fmt.Errorf("failed to write setpoint of zone %d: %w", zone, err)
	}
	return nil
}

func (g *Gateway) readFloat(ctx context.Context, addr uint16) (float64, error) {
	regs, err := g.client.ReadRegisters(ctx, addr, ezzone.FieldWidth)
	if err != nil {
		return 0, err
	}
	f, err := modbus.DecodeFloat32(regs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", tcp.ErrShortResponse, err)
	}
	return float64(f), nil
}

// fieldError reports errors confined to a single field.
func fieldError(err error) bool {
	return tcp.IsException(err) || errors.Is(err, tcp.ErrShortResponse)
}
