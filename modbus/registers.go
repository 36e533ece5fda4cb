// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeRegisters unpacks big-endian register bytes.
func DecodeRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out
}

// EncodeRegisters packs registers as big-endian bytes.
func EncodeRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[2*i:], r)
	}
	return out
}

// DecodeFloat32 decodes a 32-bit float stored big-endian across two
// registers, high word first.
func DecodeFloat32(regs []uint16) (float32, error) {
	if len(regs) != 2 {
		return 0, fmt.Errorf("modbus: float32 needs 2 registers, got %d", len(regs))
	}
	return math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1])), nil
}

// EncodeFloat32 returns the big-endian payload of f for a register write.
func EncodeFloat32(f float32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, math.Float32bits(f))
	return out
}

// UnpackBits unpacks count coil states, least significant bit first.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		out[i] = data[byteIdx]&(1<<uint(i%8)) != 0
	}
	return out
}
