// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gridserial "github.com/grid-x/serial"

	"github.com/ffutop/watlow/internal/config"
)

const (
	// Default timeout
	serialTimeout = 500 * time.Millisecond
)

// openFunc opens the underlying port. Replaced in tests.
type openFunc func(cfg *gridserial.Config) (io.ReadWriteCloser, error)

func openSerial(cfg *gridserial.Config) (io.ReadWriteCloser, error) {
	return gridserial.Open(cfg)
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	gridserial.Config

	mu   sync.Mutex
	open openFunc
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

func newSerialPort(cfg config.SerialConfig) serialPort {
	p := serialPort{open: openSerial}

	// Map internal config to serial.Config
	p.Config.Address = cfg.Device
	p.Config.BaudRate = cfg.BaudRate
	p.Config.DataBits = cfg.DataBits
	p.Config.StopBits = cfg.StopBits
	p.Config.Parity = cfg.Parity
	p.Config.Timeout = cfg.Timeout
	if p.Config.Timeout <= 0 {
		p.Config.Timeout = serialTimeout
	}
	if cfg.RS485 {
		p.Config.RS485.Enabled = true
		p.Config.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		p.Config.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		p.Config.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		p.Config.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		p.Config.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return p
}

// Open connects to the serial port if it is not connected.
func (p *serialPort) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (p *serialPort) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.port == nil {
		slog.Debug("opening serial port", "device", p.Config.Address, "baudRate", p.Config.BaudRate, "timeout", p.Config.Timeout)
		port, err := p.open(&p.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", p.Config.Address, err)
		}
		p.port = port
	}
	return nil
}

// IsOpen reports whether the port is connected.
func (p *serialPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.port != nil
}

// Close flushes pending output and closes the serial port.
func (p *serialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (p *serialPort) close() (err error) {
	if p.port != nil {
		p.flush()
		err = p.port.Close()
		p.port = nil
	}
	return
}

// flush drains pending output on ports that buffer writes. Caller must hold the mutex.
func (p *serialPort) flush() {
	if f, ok := p.port.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			slog.Debug("serial flush failed", "device", p.Config.Address, "err", err)
		}
	}
}
