// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"unsafe"

	"github.com/ffutop/watlow/internal/simulator/model"
)

// Register image file layout:
//
//	coils              65536 bytes, one byte per coil   offset 0
//	holding registers  65536 * 2 bytes, host order      offset 65536
//
// Total 196608 bytes.
const (
	sizeCoils   = model.MaxAddress + 1
	sizeHolding = (model.MaxAddress + 1) * 2
	totalSize   = sizeCoils + sizeHolding

	offsetCoils   = 0
	offsetHolding = offsetCoils + sizeCoils
)

// mapBytesToModel constructs a DataModel backed by the provided data slice.
// Holding registers are stored in host byte order, so a file is only
// portable between hosts of the same endianness.
func mapBytesToModel(data []byte) *model.DataModel {
	m := &model.DataModel{}

	m.Coils = data[offsetCoils : offsetCoils+sizeCoils]

	holdingBytes := data[offsetHolding : offsetHolding+sizeHolding]
	m.HoldingRegisters = unsafe.Slice((*uint16)(unsafe.Pointer(&holdingBytes[0])), sizeHolding/2)

	return m
}
