// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"time"

	gomodbus "github.com/goburrow/modbus"
)

// Link is one Modbus connection. Methods are called from a single
// goroutine and never overlap.
type Link interface {
	Connect() error
	Close() error

	ReadCoils(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// LinkFactory creates an unconnected link. It is called once per connect step.
type LinkFactory func(address string, timeout time.Duration, slaveID byte) Link

// tcpLink is a Link over a goburrow Modbus TCP client.
type tcpLink struct {
	gomodbus.Client
	handler *gomodbus.TCPClientHandler
}

// NewTCPLink returns a Modbus TCP link. The connection is kept open until
// Close; idle disconnects are disabled so the link state stays truthful.
func NewTCPLink(address string, timeout time.Duration, slaveID byte) Link {
	handler := gomodbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.IdleTimeout = 0
	handler.SlaveId = slaveID
	return &tcpLink{
		Client:  gomodbus.NewClient(handler),
		handler: handler,
	}
}

func (l *tcpLink) Connect() error { return l.handler.Connect() }

func (l *tcpLink) Close() error { return l.handler.Close() }
