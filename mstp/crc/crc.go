// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the two BACnet MS/TP checksums: the header CRC
// (x^8 + x^7 + 1) and the data CRC (x^16 + x^12 + x^5 + 1). Both are computed
// LSB first, seeded with all ones and transmitted as their one's complement.
package crc

const (
	poly8  = 0x81   // x^8 + x^7 + 1, reflected
	poly16 = 0x8408 // x^16 + x^12 + x^5 + 1, reflected
)

var (
	table8  = makeTable8(poly8)
	table16 = makeTable16(poly16)
)

// CRC8 is the running header CRC.
type CRC8 struct {
	value byte
}

func (crc *CRC8) Reset() *CRC8 {
	crc.value = 0xFF
	return crc
}

func (crc *CRC8) PushBytes(bs []byte) *CRC8 {
	for _, b := range bs {
		crc.value = table8[crc.value^b]
	}
	return crc
}

func (crc *CRC8) Value() byte {
	return crc.value
}

// CRC16 is the running data CRC.
type CRC16 struct {
	value uint16
}

func (crc *CRC16) Reset() *CRC16 {
	crc.value = 0xFFFF
	return crc
}

func (crc *CRC16) PushBytes(bs []byte) *CRC16 {
	for _, b := range bs {
		crc.value = table16[byte(crc.value)^b] ^ (crc.value >> 8)
	}
	return crc
}

func (crc *CRC16) Value() uint16 {
	return crc.value
}

// HeaderChecksum returns the checksum byte sent after a frame header.
func HeaderChecksum(header []byte) byte {
	var crc CRC8
	return ^crc.Reset().PushBytes(header).Value()
}

// DataChecksum returns the two checksum bytes sent after a frame body,
// least significant byte first.
func DataChecksum(body []byte) [2]byte {
	var crc CRC16
	sum := ^crc.Reset().PushBytes(body).Value()
	return [2]byte{byte(sum), byte(sum >> 8)}
}

func makeTable8(poly byte) (table [256]byte) {
	for i := range table {
		c := byte(i)
		for k := 0; k < 8; k++ {
			if c&1 != 0 {
				c = c>>1 ^ poly
			} else {
				c >>= 1
			}
		}
		table[i] = c
	}
	return
}

func makeTable16(poly uint16) (table [256]uint16) {
	for i := range table {
		c := uint16(i)
		for k := 0; k < 8; k++ {
			if c&1 != 0 {
				c = c>>1 ^ poly
			} else {
				c >>= 1
			}
		}
		table[i] = c
	}
	return
}
