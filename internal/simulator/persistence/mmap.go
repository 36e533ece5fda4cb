// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/watlow/internal/simulator/model"
)

// MmapStorage keeps the register image in a memory-mapped file laid out
// as described in layout.go. The model is backed by the mapping itself,
// so a Modbus write is in the page cache as soon as it is applied; OnWrite
// only syncs the pages covering the written range.
type MmapStorage struct {
	path     string
	file     *os.File
	data     mmap.MMap
	pageSize int
}

func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{path: path, pageSize: os.Getpagesize()}
}

// Load maps the register image file, creating or resizing it as needed.
// A new file starts zeroed, leaving the simulator to seed its zones.
func (ms *MmapStorage) Load() (*model.DataModel, error) {
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open register image: %w", err)
	}
	if err := ensureSize(f); err != nil {
		f.Close()
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map register image: %w", err)
	}
	ms.file, ms.data = f, data

	slog.Debug("mapped register image", "path", ms.path, "size", totalSize)
	return mapBytesToModel(data), nil
}

func ensureSize(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == int64(totalSize) {
		return nil
	}
	if err := f.Truncate(int64(totalSize)); err != nil {
		return fmt.Errorf("failed to resize register image: %w", err)
	}
	return nil
}

// Save syncs the whole mapping.
func (ms *MmapStorage) Save(m *model.DataModel) error {
	if ms.data == nil {
		return fmt.Errorf("register image %s is not mapped", ms.path)
	}
	return ms.data.Flush()
}

// OnWrite syncs the pages holding quantity items of table at address.
func (ms *MmapStorage) OnWrite(table model.TableType, address, quantity uint16) {
	if ms.data == nil {
		return
	}
	lo, hi, ok := ms.span(table, address, quantity)
	if !ok {
		return
	}
	if err := ms.data[lo:hi].Flush(); err != nil {
		// Some platforms only sync whole views.
		if err := ms.data.Flush(); err != nil {
			slog.Error("Failed to flush register image", "path", ms.path, "err", err)
		}
	}
}

// span returns the page-aligned byte range of the mapping covering the
// written items.
func (ms *MmapStorage) span(table model.TableType, address, quantity uint16) (lo, hi int, ok bool) {
	if quantity == 0 {
		return 0, 0, false
	}
	switch table {
	case model.TableCoils:
		lo = offsetCoils + int(address)
		hi = lo + int(quantity)
	case model.TableHoldingRegisters:
		lo = offsetHolding + 2*int(address)
		hi = lo + 2*int(quantity)
	default:
		return 0, 0, false
	}

	lo -= lo % ms.pageSize
	if rem := hi % ms.pageSize; rem != 0 {
		hi += ms.pageSize - rem
	}
	return lo, min(hi, len(ms.data)), true
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		err = ms.data.Unmap()
		ms.data = nil
	}
	if ms.file != nil {
		if cerr := ms.file.Close(); err == nil {
			err = cerr
		}
		ms.file = nil
	}
	return err
}
