// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mstp

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/ffutop/watlow/mstp/crc"
)

const (
	PreambleSize = 2
	HeaderSize   = 5
	ValueSize    = 4
	checksumSize = 2

	// ReadResponseLength is the length of a PV/SP read response.
	ReadResponseLength = 21
	// WriteResponseLength is the length of a setpoint write acknowledgement.
	WriteResponseLength = 20
)

// Preamble marks the start of every frame.
var Preamble = [PreambleSize]byte{0x55, 0xFF}

var ErrMalformedResponse = errors.New("mstp: malformed response")

// Command is one of the fixed request/response exchanges understood by the
// controller.
type Command struct {
	Name           string
	Header         []byte
	Body           []byte
	ResponseLength int

	response *regexp.Regexp
}

// Request frame layout:
//
//	Preamble  Req  Zone  ???     HCRC  ???     Register  Instance  Value     DCRC
//	55ff      05   10    000006  e8    010301  0401      01        --------  e399
//
// Only zone 0x10 and instance 0x01 are known to answer. Register 0x0401 is
// the process value, 0x0701 the setpoint. The last header byte is the body
// length.
var (
	ReadActual = &Command{
		Name:           "actual",
		Header:         []byte{0x05, 0x10, 0x00, 0x00, 0x06},
		Body:           []byte{0x01, 0x03, 0x01, 0x04, 0x01, 0x01},
		ResponseLength: ReadResponseLength,
		response:       regexp.MustCompile(`^55ff060010000b8802030104010108([0-9a-f]{8})([0-9a-f]{4})$`),
	}
	ReadSetpoint = &Command{
		Name:           "setpoint",
		Header:         []byte{0x05, 0x10, 0x00, 0x00, 0x06},
		Body:           []byte{0x01, 0x03, 0x01, 0x07, 0x01, 0x01},
		ResponseLength: ReadResponseLength,
		response:       regexp.MustCompile(`^55ff060010000b8802030107010108([0-9a-f]{8})([0-9a-f]{4})$`),
	}
	WriteSetpoint = &Command{
		Name:           "set",
		Header:         []byte{0x05, 0x10, 0x00, 0x00, 0x0a},
		Body:           []byte{0x01, 0x04, 0x07, 0x01, 0x01, 0x08},
		ResponseLength: WriteResponseLength,
		response:       regexp.MustCompile(`^55ff060010000a76020407010108([0-9a-f]{8})([0-9a-f]{4})$`),
	}
)

// Response is the decoded payload of a matched response frame.
//
// Checksum is captured from the trailing data CRC but not verified: the
// response CRC has never been reproduced against hardware.
type Response struct {
	Value    float32
	Checksum [checksumSize]byte
}

// Encode builds a frame:
//
//	Preamble        : 2 bytes
//	Header          : 5 bytes
//	Header CRC      : 1 byte
//	Body            : 6 or 10 bytes
//	Data CRC        : 2 bytes, little endian
func Encode(header, body []byte) []byte {
	frame := make([]byte, 0, PreambleSize+len(header)+1+len(body)+checksumSize)
	frame = append(frame, Preamble[:]...)
	frame = append(frame, header...)
	frame = append(frame, crc.HeaderChecksum(header))
	frame = append(frame, body...)
	sum := crc.DataChecksum(body)
	return append(frame, sum[:]...)
}

// Request builds the request frame for the command, appending payload to
// the command body. Checksums are computed over the bytes actually sent.
func (c *Command) Request(payload []byte) []byte {
	body := make([]byte, 0, len(c.Body)+len(payload))
	body = append(body, c.Body...)
	body = append(body, payload...)
	return Encode(c.Header, body)
}

// Match validates raw against the command's response pattern and extracts
// the value field.
func (c *Command) Match(raw []byte) (Response, error) {
	m := c.response.FindStringSubmatch(hex.EncodeToString(raw))
	if m == nil {
		return Response{}, fmt.Errorf("%w to %s: %x", ErrMalformedResponse, c.Name, raw)
	}
	value, err := hex.DecodeString(m[1])
	if err != nil {
		return Response{}, fmt.Errorf("%w to %s: %v", ErrMalformedResponse, c.Name, err)
	}
	checksum, err := hex.DecodeString(m[2])
	if err != nil {
		return Response{}, fmt.Errorf("%w to %s: %v", ErrMalformedResponse, c.Name, err)
	}

	resp := Response{Value: DecodeFloat(value)}
	copy(resp.Checksum[:], checksum)
	return resp, nil
}

// EncodeFloat encodes f as a big-endian IEEE-754 value.
func EncodeFloat(f float32) []byte {
	b := make([]byte, ValueSize)
	binary.BigEndian.PutUint32(b, math.Float32bits(f))
	return b
}

// DecodeFloat decodes a big-endian IEEE-754 value.
func DecodeFloat(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}
