// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator emulates an EZ-Zone Modbus TCP gateway: a register
// image laid out by the gateway register map, a Modbus PDU processor on
// top of it and a thermal plant stepping every zone.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/watlow/ezzone"
	"github.com/ffutop/watlow/internal/config"
	"github.com/ffutop/watlow/internal/simulator/model"
	"github.com/ffutop/watlow/internal/simulator/persistence"
)

// Simulator owns the register image and the plant.
type Simulator struct {
	*Slave
	Plant *Plant

	model    *model.DataModel
	storage  persistence.Storage
	interval time.Duration
}

// New loads the register image from the configured storage and seeds
// zeroed zones with ambient state.
func New(cfg config.SimulatorConfig, offset int) (*Simulator, error) {
	if cfg.Zones < 1 {
		return nil, fmt.Errorf("simulator needs at least one zone, got %d", cfg.Zones)
	}

	storage, err := persistence.New(cfg.Persistence.Type, cfg.Persistence.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("Initializing simulator", "zones", cfg.Zones, "offset", offset, "storage", cfg.Persistence.Type, "path", cfg.Persistence.Path)

	m, err := storage.Load()
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to load register image: %w", err)
	}

	s := &Simulator{
		Slave:    NewSlave(m, storage),
		Plant:    NewPlant(m, cfg.Zones, offset),
		model:    m,
		storage:  storage,
		interval: cfg.Interval,
	}
	if err := s.Plant.Seed(Ambient); err != nil {
		storage.Close()
		return nil, err
	}
	return s, nil
}

// Run steps the plant every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Plant.Step(); err != nil {
				return fmt.Errorf("plant step failed: %w", err)
			}
			s.persistStep()
		}
	}
}

// persistStep hands the registers a plant step wrote to the storage.
func (s *Simulator) persistStep() {
	for _, field := range []ezzone.Field{ezzone.Actual, ezzone.Output} {
		addrs, err := s.Plant.Addresses(field)
		if err != nil {
			slog.Error("failed to resolve zone registers", "field", field, "err", err)
			continue
		}
		for _, addr := range addrs {
			s.storage.OnWrite(model.TableHoldingRegisters, addr, ezzone.FieldWidth)
		}
	}
}

// Close saves the register image and releases the storage.
func (s *Simulator) Close() error {
	return errors.Join(s.storage.Save(s.model), s.storage.Close())
}
