// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import (
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHeaderChecksum(t *testing.T) {
	tests := []struct {
		header string
		want   byte
	}{
		{"0510000006", 0xE8}, // read request
		{"051000000a", 0xEC}, // write request
		{"060010000b", 0x88}, // read response
		{"060010000a", 0x76}, // write response
	}
	for _, tt := range tests {
		if got := HeaderChecksum(mustHex(t, tt.header)); got != tt.want {
			t.Errorf("HeaderChecksum(%s) = %02x, want %02x", tt.header, got, tt.want)
		}
	}
}

func TestDataChecksum(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"010301040101", "e399"},
		{"010301070101", "8776"},
		{"010407010108", "d946"},
		{"010407010108429a0000", "a8f8"},
	}
	for _, tt := range tests {
		got := DataChecksum(mustHex(t, tt.body))
		if hex.EncodeToString(got[:]) != tt.want {
			t.Errorf("DataChecksum(%s) = %x, want %s", tt.body, got, tt.want)
		}
	}
}

func TestCRC16Incremental(t *testing.T) {
	body := mustHex(t, "010407010108429a0000")

	var whole, parts CRC16
	whole.Reset().PushBytes(body)
	parts.Reset().PushBytes(body[:3]).PushBytes(body[3:])
	if whole.Value() != parts.Value() {
		t.Fatalf("incremental crc %04x != one-shot %04x", parts.Value(), whole.Value())
	}
	if whole.Reset().PushBytes(body).Value() != parts.Value() {
		t.Fatal("crc is not deterministic across Reset")
	}
}

func TestDataChecksumBitFlip(t *testing.T) {
	body := mustHex(t, "010407010108429a0000")
	want := DataChecksum(body)
	for i := range body {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), body...)
			flipped[i] ^= 1 << bit
			if DataChecksum(flipped) == want {
				t.Errorf("flipping byte %d bit %d did not change the checksum", i, bit)
			}
		}
	}
}
