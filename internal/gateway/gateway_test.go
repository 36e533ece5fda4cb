// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/internal/simulator"
	"github.com/ffutop/watlow/modbus"
	"github.com/ffutop/watlow/temperature"
	"github.com/ffutop/watlow/transport"
	"github.com/ffutop/watlow/transport/tcp"
)

func startServer(t *testing.T, handler transport.RequestHandler) string {
	t.Helper()
	s := tcp.NewServer("127.0.0.1:0", handler)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s.Addr().String()
}

func startSimulator(t *testing.T) (*simulator.Simulator, string) {
	t.Helper()
	cfg := config.New()
	sim, err := simulator.New(cfg.Simulator, cfg.Gateway.ModbusOffset)
	require.NoError(t, err)
	t.Cleanup(func() { sim.Close() })
	return sim, startServer(t, sim.Handle)
}

func newGateway(t *testing.T, addr string) *Gateway {
	t.Helper()
	cfg := config.New().Gateway
	cfg.Address = addr
	g := New(cfg)
	t.Cleanup(func() { g.Close() })
	require.NoError(t, g.Wait(context.Background()))
	return g
}

func TestGateway_GetSet(t *testing.T) {
	sim, addr := startSimulator(t)
	g := newGateway(t, addr)
	ctx := context.Background()

	reading, err := g.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, reading.Actual)
	require.NotNil(t, reading.Setpoint)
	require.NotNil(t, reading.Output)
	require.Equal(t, 25.0, *reading.Actual)
	require.Equal(t, 25.0, *reading.Setpoint)
	require.Equal(t, 0.0, *reading.Output)

	require.NoError(t, g.SetSetpoint(ctx, 3, 150))
	state, err := sim.Plant.Zone(3)
	require.NoError(t, err)
	require.EqualValues(t, 150, state.Setpoint)

	reading, err = g.Get(ctx, 3)
	require.NoError(t, err)
	require.InDelta(t, 150, *reading.Setpoint, 1e-6)
}

func TestGateway_SetOutOfRange(t *testing.T) {
	sim, addr := startSimulator(t)
	g := newGateway(t, addr)

	err := g.SetSetpoint(context.Background(), 1, 9000)
	require.ErrorIs(t, err, temperature.ErrOutOfRange)
	require.Contains(t, err.Error(), "exceeds maximum 220")

	err = g.SetSetpoint(context.Background(), 1, 5)
	require.ErrorIs(t, err, temperature.ErrOutOfRange)

	state, err := sim.Plant.Zone(1)
	require.NoError(t, err)
	require.EqualValues(t, 25, state.Setpoint)
}

func TestGateway_InvalidZone(t *testing.T) {
	requests := 0
	addr := startServer(t, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		requests++
		return modbus.ProtocolDataUnit{}, errors.New("unexpected request")
	})
	g := newGateway(t, addr)

	for _, zone := range []int{0, -1, 14} {
		_, err := g.Get(context.Background(), zone)
		require.ErrorIs(t, err, ezzone.ErrInvalidZone, "zone %d", zone)
		require.ErrorIs(t, g.SetSetpoint(context.Background(), zone, 100), ezzone.ErrInvalidZone)
	}
	require.Zero(t, requests)
}

func TestGateway_FieldException(t *testing.T) {
	sim, _ := startSimulator(t)
	outputAddr, err := ezzone.Address(1, ezzone.DefaultOffset, ezzone.Output)
	require.NoError(t, err)

	// Fail the output field only.
	addr := startServer(t, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		if len(pdu.Data) >= 2 && uint16(pdu.Data[0])<<8|uint16(pdu.Data[1]) == outputAddr {
			return modbus.ProtocolDataUnit{
				FunctionCode: pdu.FunctionCode | modbus.ExceptionBit,
				Data:         []byte{modbus.ExceptionCodeIllegalDataAddress},
			}, nil
		}
		return sim.Handle(ctx, slaveID, pdu)
	})
	g := newGateway(t, addr)

	reading, err := g.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, reading.Output)
	require.NotNil(t, reading.Actual)
	require.NotNil(t, reading.Setpoint)
	require.Equal(t, tcp.StateConnected, g.State())
}

func TestGateway_Timeout(t *testing.T) {
	release := make(chan struct{})
	addr := startServer(t, func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return modbus.ProtocolDataUnit{}, errors.New("released")
	})
	defer close(release)

	cfg := config.New().Gateway
	cfg.Address = addr
	cfg.Timeout = 100 * time.Millisecond
	g := New(cfg)
	defer g.Close()
	require.NoError(t, g.Wait(context.Background()))

	_, err := g.Get(context.Background(), 1)
	require.ErrorIs(t, err, tcp.ErrTimeout)
	require.Equal(t, tcp.StateLost, g.State())
}

func TestGateway_Session(t *testing.T) {
	_, addr := startSimulator(t)
	cfg := config.New().Gateway
	cfg.Address = addr
	g := New(cfg)

	var got Reading
	err := g.Session(context.Background(), func(ctx context.Context, g *Gateway) error {
		var err error
		got, err = g.Get(ctx, 2)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, got.Actual)
	require.Equal(t, tcp.StateClosed, g.State())
}
