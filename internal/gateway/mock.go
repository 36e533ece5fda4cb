// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/temperature"
)

const (
	mockZones   = 8
	mockLatency = 250 * time.Millisecond
)

var ErrUnknownZone = errors.New("unknown zone")

type zoneState struct {
	actual   float64
	setpoint float64
	output   float64
}

// Mock is an in-process Driver for work without hardware. Zones 1 to 8
// start at 25°C; every Get first moves the actual temperature of all
// zones one degree toward their setpoints. Setpoints are kept exactly as
// written.
type Mock struct {
	zones *xsync.MapOf[int, zoneState]

	// Range bounds every setpoint write, Celsius.
	Range temperature.Range
	// MaxLatency bounds the random delay of every call.
	MaxLatency time.Duration
}

var _ Driver = (*Mock)(nil)

func NewMock(maxTemp float64) *Mock {
	if maxTemp == 0 {
		maxTemp = 220
	}
	m := &Mock{
		zones:      xsync.NewMapOf[int, zoneState](),
		Range:      temperature.Range{Min: MinSetpoint, Max: maxTemp},
		MaxLatency: mockLatency,
	}
	for zone := 1; zone <= mockZones; zone++ {
		m.zones.Store(zone, zoneState{actual: 25, setpoint: 25, output: 0})
	}
	return m
}

func (m *Mock) Get(ctx context.Context, zone int) (Reading, error) {
	if err := m.check(zone); err != nil {
		return Reading{}, err
	}
	if err := m.delay(ctx); err != nil {
		return Reading{}, err
	}

	m.perturb()
	s, ok := m.zones.Load(zone)
	if !ok {
		return Reading{}, fmt.Errorf("%w: %d", ErrUnknownZone, zone)
	}
	return Reading{Actual: &s.actual, Setpoint: &s.setpoint, Output: &s.output}, nil
}

// perturb moves every zone one step toward its setpoint.
func (m *Mock) perturb() {
	m.zones.Range(func(zone int, _ zoneState) bool {
		m.zones.Compute(zone, func(s zoneState, loaded bool) (zoneState, bool) {
			if !loaded {
				return s, true
			}
			switch {
			case s.actual < s.setpoint:
				s.actual = min(s.actual+1, s.setpoint)
			case s.actual > s.setpoint:
				s.actual = max(s.actual-1, s.setpoint)
			}
			s.output = 0
			if s.actual < s.setpoint {
				s.output = 100
			}
			return s, false
		})
		return true
	})
}

func (m *Mock) SetSetpoint(ctx context.Context, zone int, setpoint float64) error {
	if err := m.Range.Check(setpoint); err != nil {
		return err
	}
	if err := m.check(zone); err != nil {
		return err
	}
	if err := m.delay(ctx); err != nil {
		return err
	}

	_, ok := m.zones.Compute(zone, func(s zoneState, loaded bool) (zoneState, bool) {
		s.setpoint = setpoint
		return s, !loaded
	})
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownZone, zone)
	}
	return nil
}

func (m *Mock) Close() error { return nil }

func (m *Mock) check(zone int) error {
	if _, err := ezzone.Address(zone, ezzone.DefaultOffset, ezzone.Setpoint); err != nil {
		return err
	}
	if _, ok := m.zones.Load(zone); !ok {
		return fmt.Errorf("%w: %d, the mock has zones 1 to %d", ErrUnknownZone, zone, mockZones)
	}
	return nil
}

func (m *Mock) delay(ctx context.Context) error {
	if m.MaxLatency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(rand.N(m.MaxLatency))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
