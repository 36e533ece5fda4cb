// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package temperature holds the unit conversions and setpoint bounds
// shared by the serial and gateway drivers.
package temperature

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is matched by every *RangeError.
var ErrOutOfRange = errors.New("value out of range")

// FToC converts Fahrenheit to Celsius.
func FToC(f float64) float64 {
	return (f - 32.0) / 1.8
}

// CToF converts Celsius to Fahrenheit.
func CToF(c float64) float64 {
	return c*1.8 + 32.0
}

// Range is a closed interval [Min, Max].
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the range. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Check returns a *RangeError if v is outside the range.
func (r Range) Check(v float64) error {
	if r.Contains(v) {
		return nil
	}
	return &RangeError{Value: v, Min: r.Min, Max: r.Max}
}

// RangeError reports a setpoint outside the permitted range.
type RangeError struct {
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	msg := fmt.Sprintf("setpoint (%g) is not in the valid range from %g to %g", e.Value, e.Min, e.Max)
	switch {
	case e.Value > e.Max:
		msg += fmt.Sprintf(": exceeds maximum %g", e.Max)
	case e.Value < e.Min:
		msg += fmt.Sprintf(": below minimum %g", e.Min)
	}
	return msg
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}
