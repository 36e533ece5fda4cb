// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"fmt"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/internal/simulator/model"
)

// Ambient is the state of an untouched zone, Celsius.
var Ambient = ZoneState{Actual: 25, Setpoint: 25, Output: 0}

// ZoneState is the process image of one zone.
type ZoneState struct {
	Actual   float32
	Setpoint float32
	Output   float32
}

// Plant is a crude thermal model of the zones behind the gateway: every
// step moves the actual temperature Rate degrees toward the setpoint with
// the heater fully on while below it.
type Plant struct {
	model  *model.DataModel
	zones  int
	offset int

	// Rate is the temperature change per step, Celsius.
	Rate float32
}

func NewPlant(m *model.DataModel, zones, offset int) *Plant {
	return &Plant{model: m, zones: zones, offset: offset, Rate: 1}
}

// Zones returns the number of emulated zones.
func (p *Plant) Zones() int { return p.zones }

// Zone reads the process image of a 1-based zone.
func (p *Plant) Zone(zone int) (ZoneState, error) {
	var s ZoneState
	var err error
	if s.Actual, err = p.read(zone, ezzone.Actual); err != nil {
		return ZoneState{}, err
	}
	if s.Setpoint, err = p.read(zone, ezzone.Setpoint); err != nil {
		return ZoneState{}, err
	}
	if s.Output, err = p.read(zone, ezzone.Output); err != nil {
		return ZoneState{}, err
	}
	return s, nil
}

// SetZone overwrites the process image of a 1-based zone.
func (p *Plant) SetZone(zone int, s ZoneState) error {
	if err := p.write(zone, ezzone.Actual, s.Actual); err != nil {
		return err
	}
	if err := p.write(zone, ezzone.Setpoint, s.Setpoint); err != nil {
		return err
	}
	return p.write(zone, ezzone.Output, s.Output)
}

// Seed sets every zone whose image is still zeroed to s.
func (p *Plant) Seed(s ZoneState) error {
	for zone := 1; zone <= p.zones; zone++ {
		cur, err := p.Zone(zone)
		if err != nil {
			return err
		}
		if cur != (ZoneState{}) {
			continue
		}
		if err := p.SetZone(zone, s); err != nil {
			return err
		}
	}
	return nil
}

// Step advances every zone by one time step. The setpoint is never
// written so client writes between steps are not lost.
func (p *Plant) Step() error {
	for zone := 1; zone <= p.zones; zone++ {
		s, err := p.Zone(zone)
		if err != nil {
			return err
		}

		switch {
		case s.Actual < s.Setpoint:
			s.Actual = min(s.Actual+p.Rate, s.Setpoint)
			s.Output = 100
		case s.Actual > s.Setpoint:
			s.Actual = max(s.Actual-p.Rate, s.Setpoint)
			s.Output = 0
		default:
			s.Output = 0
		}

		if err := p.write(zone, ezzone.Actual, s.Actual); err != nil {
			return err
		}
		if err := p.write(zone, ezzone.Output, s.Output); err != nil {
			return err
		}
	}
	return nil
}

// Addresses returns the register address of field for every zone.
func (p *Plant) Addresses(field ezzone.Field) ([]uint16, error) {
	addrs := make([]uint16, 0, p.zones)
	for zone := 1; zone <= p.zones; zone++ {
		addr, err := p.address(zone, field)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (p *Plant) read(zone int, field ezzone.Field) (float32, error) {
	addr, err := p.address(zone, field)
	if err != nil {
		return 0, err
	}
	return p.model.Float32(addr)
}

func (p *Plant) write(zone int, field ezzone.Field, v float32) error {
	addr, err := p.address(zone, field)
	if err != nil {
		return err
	}
	return p.model.SetFloat32(addr, v)
}

func (p *Plant) address(zone int, field ezzone.Field) (uint16, error) {
	if zone > p.zones {
		return 0, fmt.Errorf("%w: %d, simulating %d zones", ezzone.ErrInvalidZone, zone, p.zones)
	}
	return ezzone.Address(zone, p.offset, field)
}
