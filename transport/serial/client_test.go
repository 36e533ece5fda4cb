// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package serial

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	gridserial "github.com/grid-x/serial"

	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/mstp"
	"github.com/ffutop/watlow/temperature"
)

var errReadTimeout = errors.New("serial: timeout")

var (
	readResponseHeader  = []byte{0x06, 0x00, 0x10, 0x00, 0x0b}
	writeResponseHeader = []byte{0x06, 0x00, 0x10, 0x00, 0x0a}
)

// fakeDevice answers request frames the way a controller does. Scripted
// replies, when queued, replace the next answers verbatim.
type fakeDevice struct {
	mu sync.Mutex

	actual   float32 // Fahrenheit
	setpoint float32 // Fahrenheit
	confirm  *float32

	script     [][]byte
	writeErrs  []error
	pending    bytes.Buffer
	requests   [][]byte
	closeCount int
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, append([]byte(nil), p...))
	d.pending.Reset()

	if len(d.writeErrs) > 0 {
		err := d.writeErrs[0]
		d.writeErrs = d.writeErrs[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(d.script) > 0 {
		d.pending.Write(d.script[0])
		d.script = d.script[1:]
		return len(p), nil
	}

	switch {
	case bytes.Equal(p, mstp.ReadActual.Request(nil)):
		d.pending.Write(readResponse(0x04, d.actual))
	case bytes.Equal(p, mstp.ReadSetpoint.Request(nil)):
		d.pending.Write(readResponse(0x07, d.setpoint))
	case len(p) == 20 && bytes.HasPrefix(p, mstp.WriteSetpoint.Request(nil)[:14]):
		d.setpoint = mstp.DecodeFloat(p[14:18])
		echo := d.setpoint
		if d.confirm != nil {
			echo = *d.confirm
		}
		d.pending.Write(writeResponse(echo))
	}
	return len(p), nil
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending.Len() == 0 {
		return 0, errReadTimeout
	}
	return d.pending.Read(p)
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closeCount++
	return nil
}

func (d *fakeDevice) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.requests)
}

func readResponse(register byte, value float32) []byte {
	body := append([]byte{0x02, 0x03, 0x01, register, 0x01, 0x01, 0x08}, mstp.EncodeFloat(value)...)
	return mstp.Encode(readResponseHeader, body)
}

func writeResponse(value float32) []byte {
	body := append([]byte{0x02, 0x04, 0x07, 0x01, 0x01, 0x08}, mstp.EncodeFloat(value)...)
	return mstp.Encode(writeResponseHeader, body)
}

func newTestController(t *testing.T, dev *fakeDevice) (*Controller, *int) {
	t.Helper()
	opens := 0
	c := NewController(config.SerialConfig{Device: "/dev/ttyTEST", BaudRate: 38400})
	c.open = func(cfg *gridserial.Config) (io.ReadWriteCloser, error) {
		if cfg.Address != "/dev/ttyTEST" || cfg.BaudRate != 38400 {
			t.Errorf("unexpected serial config: %+v", cfg)
		}
		opens++
		return dev, nil
	}
	return c, &opens
}

func TestController_Get(t *testing.T) {
	dev := &fakeDevice{actual: 77, setpoint: 212}
	c, opens := newTestController(t, dev)
	defer c.Close()

	reading, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if math.Abs(reading.Actual-25) > 1e-4 || math.Abs(reading.Setpoint-100) > 1e-4 {
		t.Errorf("Get() = %+v, want actual 25 setpoint 100", reading)
	}
	if *opens != 1 {
		t.Errorf("expected lazy open once, got %d", *opens)
	}

	want := []string{"55ff0510000006e8010301040101e399", "55ff0510000006e80103010701018776"}
	for i, req := range dev.requests {
		if hex.EncodeToString(req) != want[i] {
			t.Errorf("request %d = %x, want %s", i, req, want[i])
		}
	}
}

func TestController_Set(t *testing.T) {
	dev := &fakeDevice{actual: 77, setpoint: 77}
	c, _ := newTestController(t, dev)
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, 12.3); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	sent := dev.requests[0]
	if got := mstp.DecodeFloat(sent[14:18]); got != float32(temperature.CToF(12.3)) {
		t.Errorf("sent setpoint %v F, want %v F", got, temperature.CToF(12.3))
	}

	reading, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if round2(reading.Setpoint) != 12.3 {
		t.Errorf("setpoint = %v, want 12.3", reading.Setpoint)
	}
}

func TestController_SetOutOfRange(t *testing.T) {
	dev := &fakeDevice{}
	c, opens := newTestController(t, dev)

	for _, sp := range []float64{9000, 9.5, -1, 220.01} {
		err := c.Set(context.Background(), sp)
		var re *temperature.RangeError
		if !errors.As(err, &re) {
			t.Fatalf("Set(%v) error = %v, want RangeError", sp, err)
		}
	}
	if dev.requestCount() != 0 || *opens != 0 {
		t.Errorf("range violation performed I/O: %d requests, %d opens", dev.requestCount(), *opens)
	}
}

func TestController_RetryOnMalformedResponse(t *testing.T) {
	dev := &fakeDevice{
		actual:   77,
		setpoint: 77,
		script:   [][]byte{{0x55, 0xff, 0x00}},
	}
	c, _ := newTestController(t, dev)
	defer c.Close()

	reading, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if math.Abs(reading.Actual-25) > 1e-4 {
		t.Errorf("actual = %v, want 25", reading.Actual)
	}
	if n := dev.requestCount(); n != 3 {
		t.Errorf("expected 3 requests (one retransmission), got %d", n)
	}
	if !bytes.Equal(dev.requests[0], dev.requests[1]) {
		t.Errorf("retry did not retransmit the full frame: %x vs %x", dev.requests[0], dev.requests[1])
	}
}

func TestController_RetryOnImplausibleValue(t *testing.T) {
	dev := &fakeDevice{
		actual:   77,
		setpoint: 77,
		script:   [][]byte{readResponse(0x04, 600)}, // 315 C
	}
	c, _ := newTestController(t, dev)
	defer c.Close()

	reading, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if math.Abs(reading.Actual-25) > 1e-4 {
		t.Errorf("actual = %v, want 25 after retry", reading.Actual)
	}
	if n := dev.requestCount(); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

func TestController_RetryOnWriteError(t *testing.T) {
	dev := &fakeDevice{
		actual:    77,
		setpoint:  77,
		writeErrs: []error{errors.New("serial: write failed")},
	}
	c, _ := newTestController(t, dev)
	defer c.Close()

	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n := dev.requestCount(); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

func TestController_RetriesExhausted(t *testing.T) {
	garbage := []byte{0xde, 0xad}
	dev := &fakeDevice{
		actual:   77,
		setpoint: 77,
		script:   [][]byte{garbage, garbage, garbage},
	}
	c, opens := newTestController(t, dev)

	_, err := c.Get(context.Background())
	if !errors.Is(err, ErrCommunication) {
		t.Fatalf("Get error = %v, want ErrCommunication", err)
	}
	if n := dev.requestCount(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
	if c.IsOpen() || dev.closeCount != 1 {
		t.Errorf("port not closed after exhausted retries (open=%v, closes=%d)", c.IsOpen(), dev.closeCount)
	}

	// The next exchange reopens the port.
	if _, err := c.Get(context.Background()); err != nil {
		t.Fatalf("Get after reconnect failed: %v", err)
	}
	if *opens != 2 {
		t.Errorf("expected port to be reopened, opens = %d", *opens)
	}
}

func TestController_RetriesConfigurable(t *testing.T) {
	dev := &fakeDevice{script: [][]byte{nil, nil, nil, nil, nil}}
	c, _ := newTestController(t, dev)
	c.Retries = 5

	if _, err := c.Get(context.Background()); !errors.Is(err, ErrCommunication) {
		t.Fatalf("Get error = %v, want ErrCommunication", err)
	}
	if n := dev.requestCount(); n != 5 {
		t.Errorf("expected 5 attempts, got %d", n)
	}
}

func TestController_SetVerifyMismatch(t *testing.T) {
	other := float32(temperature.CToF(50))
	dev := &fakeDevice{actual: 77, setpoint: 77, confirm: &other}
	c, _ := newTestController(t, dev)
	defer c.Close()

	err := c.Set(context.Background(), 30)
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("Set error = %v, want VerifyError", err)
	}
	if ve.Requested != 30 || round2(ve.Confirmed) != 50 {
		t.Errorf("VerifyError = %+v", ve)
	}
	if n := dev.requestCount(); n != 1 {
		t.Errorf("verify failure must not retry, got %d requests", n)
	}
}

func TestController_CancelledContext(t *testing.T) {
	dev := &fakeDevice{actual: 77, setpoint: 77}
	c, _ := newTestController(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get error = %v, want context.Canceled", err)
	}
	if dev.requestCount() != 0 {
		t.Errorf("cancelled exchange wrote %d requests", dev.requestCount())
	}
}
