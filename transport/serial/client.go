// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/mstp"
	"github.com/ffutop/watlow/temperature"
)

const defaultRetries = 3

var (
	// ErrCommunication is returned once every attempt of an exchange failed.
	ErrCommunication = errors.New("could not communicate with device")

	// ErrOutOfBounds marks a decoded temperature no real controller reports.
	ErrOutOfBounds = errors.New("decoded temperature out of bounds")
)

var (
	// SetpointRange bounds every setpoint write, Celsius.
	SetpointRange = temperature.Range{Min: 10, Max: 220}

	// plausible bounds every decoded temperature, Celsius.
	plausible = temperature.Range{Min: 0, Max: 250}
)

// Reading is one snapshot of the controller, Celsius.
type Reading struct {
	Actual   float64 `json:"actual"`
	Setpoint float64 `json:"setpoint"`
}

// VerifyError reports a setpoint write the controller did not confirm.
type VerifyError struct {
	Requested float64
	Confirmed float64
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("could not change setpoint from %.2f°C to %.2f°C", e.Confirmed, e.Requested)
}

// Controller drives a Watlow EZ-Zone temperature controller over its
// BACnet MS/TP derived serial protocol.
//
// A Controller is synchronous; methods may be called from several
// goroutines but exchanges never overlap on the line.
type Controller struct {
	serialPort

	// Retries is the number of complete write/read cycles per exchange.
	Retries int
}

// NewController allocates a Controller. The port is opened by Open or
// lazily by the first exchange.
func NewController(cfg config.SerialConfig) *Controller {
	c := &Controller{
		serialPort: newSerialPort(cfg),
		Retries:    cfg.Retries,
	}
	if c.Retries <= 0 {
		c.Retries = defaultRetries
	}
	return c
}

// Get reads the current temperature and setpoint, in Celsius.
func (c *Controller) Get(ctx context.Context) (Reading, error) {
	var reading Reading
	var err error

	if reading.Actual, err = c.exchange(ctx, mstp.ReadActual, mstp.ReadActual.Request(nil)); err != nil {
		return Reading{}, err
	}
	if reading.Setpoint, err = c.exchange(ctx, mstp.ReadSetpoint, mstp.ReadSetpoint.Request(nil)); err != nil {
		return Reading{}, err
	}
	return reading, nil
}

// Set writes the setpoint, in Celsius, and checks the value echoed back.
func (c *Controller) Set(ctx context.Context, setpoint float64) error {
	if err := SetpointRange.Check(setpoint); err != nil {
		return err
	}

	payload := mstp.EncodeFloat(float32(temperature.CToF(setpoint)))
	confirmed, err := c.exchange(ctx, mstp.WriteSetpoint, mstp.WriteSetpoint.Request(payload))
	if err != nil {
		return err
	}

	if round2(setpoint) != round2(confirmed) {
		return &VerifyError{Requested: setpoint, Confirmed: confirmed}
	}
	return nil
}

// exchange sends request and returns the decoded temperature of the
// matching response, retrying the complete cycle on any failure.
func (c *Controller) exchange(ctx context.Context, cmd *mstp.Command, request []byte) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		value, err := c.writeAndRead(ctx, cmd, request)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		lastErr = err
		slog.Warn("serial exchange failed", "command", cmd.Name, "attempt", attempt, "retries", c.Retries, "err", err)
	}

	if err := c.close(); err != nil {
		slog.Debug("failed to close serial port", "device", c.Config.Address, "err", err)
	}
	slog.Error("giving up on serial exchange", "command", cmd.Name, "device", c.Config.Address, "err", lastErr)
	return 0, fmt.Errorf("%w: %v", ErrCommunication, lastErr)
}

// writeAndRead performs a single write/read cycle. Caller must hold the mutex.
func (c *Controller) writeAndRead(ctx context.Context, cmd *mstp.Command, request []byte) (float64, error) {
	if err := c.connect(ctx); err != nil {
		return 0, err
	}
	c.flush()

	slog.Debug("send to controller", "command", cmd.Name, "request", hex.EncodeToString(request))
	if _, err := c.port.Write(request); err != nil {
		return 0, err
	}

	response := make([]byte, cmd.ResponseLength)
	n, err := io.ReadFull(c.port, response)
	slog.Debug("recv from controller", "command", cmd.Name, "response", hex.EncodeToString(response[:n]))
	if err != nil {
		return 0, err
	}

	// The trailing data CRC is captured but not checked.
	resp, err := cmd.Match(response)
	if err != nil {
		return 0, err
	}

	value := temperature.FToC(float64(resp.Value))
	if !plausible.Contains(value) {
		return 0, fmt.Errorf("%w: %.2f°C", ErrOutOfBounds, value)
	}
	return value, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
