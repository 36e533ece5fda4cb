// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"testing"
)

func TestFloat32Registers(t *testing.T) {
	payload := EncodeFloat32(12.3)
	if !bytes.Equal(payload, []byte{0x41, 0x44, 0xCC, 0xCD}) {
		t.Fatalf("EncodeFloat32(12.3) = %X", payload)
	}
	got, err := DecodeFloat32(DecodeRegisters(payload))
	if err != nil {
		t.Fatal(err)
	}
	if got != 12.3 {
		t.Errorf("DecodeFloat32() = %v, want 12.3", got)
	}
	if _, err := DecodeFloat32([]uint16{0x4144}); err == nil {
		t.Error("expected error for a single register")
	}
}

func TestEncodeRegisters(t *testing.T) {
	regs := []uint16{0x0102, 0xA0B0}
	raw := EncodeRegisters(regs)
	if !bytes.Equal(raw, []byte{0x01, 0x02, 0xA0, 0xB0}) {
		t.Fatalf("EncodeRegisters() = %X", raw)
	}
	back := DecodeRegisters(raw)
	if len(back) != 2 || back[0] != regs[0] || back[1] != regs[1] {
		t.Errorf("DecodeRegisters() = %X", back)
	}
}

func TestUnpackBits(t *testing.T) {
	bits := UnpackBits([]byte{0x05, 0x01}, 10)
	want := []bool{true, false, true, false, false, false, false, false, true, false}
	for i := range want {
		if bits[i] != want[i] {
			t.Errorf("bit %d = %v, want %v", i, bits[i], want[i])
		}
	}
}
