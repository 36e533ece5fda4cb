// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	gomodbus "github.com/goburrow/modbus"
)

var (
	// ErrNotConnected is returned without touching the wire when the link
	// is not connected at dispatch time.
	ErrNotConnected = errors.New("modbus: not connected")
	// ErrTimeout is returned when a request did not complete within the
	// client timeout. The link is marked lost.
	ErrTimeout = errors.New("modbus: request timed out")
	// ErrConnectionLost is returned when the link failed mid-request. The
	// link is marked lost.
	ErrConnectionLost = errors.New("modbus: connection lost")
	// ErrClosed is returned by every request issued after Close.
	ErrClosed = errors.New("modbus: client closed")

	ErrInvalidCount  = errors.New("modbus: invalid quantity")
	ErrShortResponse = errors.New("modbus: short response")
)

// ConnectError reports a failed connect step.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("modbus: failed to connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsException reports whether err is a Modbus exception response.
func IsException(err error) bool {
	var mbErr *gomodbus.ModbusError
	return errors.As(err, &mbErr)
}
