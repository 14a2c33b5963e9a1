// Package memory scopes the process-wide device memory subsystem to an
// explicit handle that is threaded through every component touching device memory.
package memory

import (
	"fmt"
	"sync"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/lifecycle"
	"github.com/ugparu/gocedar/utils/logger"
)

// Handle is an opened memory adapter. Close it after every session using it is destroyed.
type Handle struct {
	lifecycle.Manager[*Handle]
	adapter  device.MemoryAdapter
	mu       sync.RWMutex
	open     bool
	closeErr error
}

// Open opens adapter and returns the handle owning it.
func Open(adapter device.MemoryAdapter) (*Handle, error) {
	h := &Handle{adapter: adapter}
	h.Manager = lifecycle.NewDefaultManager(h)
	if err := h.Start(startHandle); err != nil {
		return nil, err
	}
	return h, nil
}

func startHandle(h *Handle) error {
	if err := h.adapter.Open(); err != nil {
		return fmt.Errorf("can not open memory adapter %s: %w", h.adapter, err)
	}
	h.mu.Lock()
	h.open = true
	h.mu.Unlock()
	logger.Infof(h, "Opened memory adapter %s", h.adapter)
	return nil
}

// Adapter returns the underlying adapter.
func (h *Handle) Adapter() device.MemoryAdapter {
	return h.adapter
}

func (h *Handle) checkOpen() error {
	if !h.open {
		return &utils.InvalidStateError{Object: h.String(), From: "closed"}
	}
	return nil
}

// Flush cleans and invalidates the CPU cache over the whole region.
func (h *Handle) Flush(r gocedar.Region) error {
	return h.FlushRange(r, r.Len())
}

// FlushRange cleans and invalidates the CPU cache over the first size bytes of r.
func (h *Handle) FlushRange(r gocedar.Region, size int) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.checkOpen(); err != nil {
		return err
	}
	if size > r.Len() {
		return &utils.BufferTooSmallError{Have: r.Len(), Need: size}
	}
	if size == 0 {
		return nil
	}
	return h.adapter.FlushCache(r, size)
}

// PhysAddr returns the device address of r or zero when the handle is closed.
func (h *Handle) PhysAddr(r gocedar.Region) uintptr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.open {
		return 0
	}
	return h.adapter.PhysAddr(r)
}

// Err returns the error reported by the adapter on close.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closeErr
}

// Close_ closes the adapter. Use Close.
func (h *Handle) Close_() { //nolint:revive
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return
	}
	h.open = false
	if err := h.adapter.Close(); err != nil {
		h.closeErr = err
		logger.Errorf(h, "Can not close memory adapter: %v", err)
		return
	}
	logger.Info(h, "Closed memory adapter")
}

// String returns a string representation of the handle.
func (h *Handle) String() string {
	return fmt.Sprintf("MEMORY %s", h.adapter)
}
