// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/temperature"
)

func newTestMock() *Mock {
	m := NewMock(220)
	m.MaxLatency = 0
	return m
}

func TestMock_Get(t *testing.T) {
	m := newTestMock()
	reading, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 25.0, *reading.Actual)
	require.Equal(t, 25.0, *reading.Setpoint)
	require.Equal(t, 0.0, *reading.Output)
}

func TestMock_SetSetpoint(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()

	require.NoError(t, m.SetSetpoint(ctx, 2, 12.3))
	reading, err := m.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 12.3, *reading.Setpoint)
	require.Equal(t, 24.0, *reading.Actual)
	require.Equal(t, 0.0, *reading.Output)

	// Other setpoints are untouched.
	reading, err = m.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 25.0, *reading.Setpoint)
	require.Equal(t, 25.0, *reading.Actual)
}

func TestMock_GetMovesEveryZone(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	require.NoError(t, m.SetSetpoint(ctx, 5, 100))

	for i := 0; i < 3; i++ {
		_, err := m.Get(ctx, 1)
		require.NoError(t, err)
	}

	reading, err := m.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, 29.0, *reading.Actual)
	require.Equal(t, 100.0, *reading.Output)
}

func TestMock_Heating(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()

	require.NoError(t, m.SetSetpoint(ctx, 1, 27.5))
	for _, want := range []float64{26, 27, 27.5, 27.5} {
		reading, err := m.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, want, *reading.Actual)
		if want < 27.5 {
			require.Equal(t, 100.0, *reading.Output)
		} else {
			require.Equal(t, 0.0, *reading.Output)
		}
	}
}

func TestMock_Errors(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()

	err := m.SetSetpoint(ctx, 1, 9000)
	require.ErrorIs(t, err, temperature.ErrOutOfRange)
	require.Contains(t, err.Error(), "exceeds maximum 220")
	reading, err := m.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 25.0, *reading.Setpoint)

	_, err = m.Get(ctx, 0)
	require.ErrorIs(t, err, ezzone.ErrInvalidZone)
	_, err = m.Get(ctx, 9)
	require.ErrorIs(t, err, ErrUnknownZone)
	require.ErrorIs(t, m.SetSetpoint(ctx, 9, 100), ErrUnknownZone)
}

func TestMock_Latency(t *testing.T) {
	m := NewMock(0)
	require.Equal(t, 250*time.Millisecond, m.MaxLatency)
	m.MaxLatency = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Get(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMock_Concurrent(t *testing.T) {
	m := newTestMock()
	ctx := context.Background()
	require.NoError(t, m.SetSetpoint(ctx, 1, 200))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Get(ctx, 1)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	reading, err := m.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 25.0+51, *reading.Actual)
}
