// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"

	"github.com/ffutop/watlow/internal/simulator/model"
)

// Storage persists the register image of the simulator.
type Storage interface {
	// Load returns the stored data model, or a zeroed one if nothing was
	// stored yet.
	Load() (*model.DataModel, error)

	// Save writes the complete data model.
	Save(model *model.DataModel) error

	// OnWrite is called after a Modbus write modified the model.
	OnWrite(table model.TableType, address, quantity uint16)

	Close() error
}

// New returns the storage of the given type: "memory" (or empty) or "mmap".
func New(kind, path string) (Storage, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "mmap":
		if path == "" {
			return nil, fmt.Errorf("mmap storage needs a path")
		}
		return NewMmapStorage(path), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}
