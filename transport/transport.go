// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/watlow/modbus"
)

// RequestHandler handles a Modbus request/response cycle.
//
// Servers decode the transport specific ADU, call the handler with the
// unit identifier and the PDU, and wrap the returned PDU for the wire.
// An exception is returned as a PDU with the high bit of the function code
// set; a non-nil error means no answer could be produced at all.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)
