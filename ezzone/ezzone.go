// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ezzone describes the Modbus register map of an EZ-Zone gateway.
//
// Every zone occupies a block of registers; a field of zone z lives at
// (z-1)*offset + field. All fields are 32-bit floats over two registers,
// high word first.
package ezzone

import (
	"errors"
	"fmt"

	"github.com/ffutop/watlow/modbus"
)

// Field is the register of a value inside a zone block.
type Field uint16

const (
	Actual   Field = 360
	Setpoint Field = 2160
	Output   Field = 1904
)

const (
	// DefaultOffset is the register distance between zones.
	DefaultOffset = 5000
	// FieldWidth is the number of registers of every field.
	FieldWidth = 2
)

// Fields lists the readable fields in reporting order.
var Fields = []Field{Actual, Setpoint, Output}

var ErrInvalidZone = errors.New("invalid zone")

func (f Field) String() string {
	switch f {
	case Actual:
		return "actual"
	case Setpoint:
		return "setpoint"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("field(%d)", uint16(f))
	}
}

// Address returns the first register of field in zone. Zones are 1-based.
func Address(zone, offset int, field Field) (uint16, error) {
	if zone < 1 {
		return 0, fmt.Errorf("%w: %d, zones start at 1", ErrInvalidZone, zone)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative register offset %d", ErrInvalidZone, offset)
	}
	addr := (zone-1)*offset + int(field)
	if addr+FieldWidth > modbus.MaxAddress+1 {
		return 0, fmt.Errorf("%w: %d, register %d is out of range", ErrInvalidZone, zone, addr)
	}
	return uint16(addr), nil
}
