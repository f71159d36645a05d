package resource_manager

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Slot is an isolated share of the machine a single trial runs in: its own
// rendezvous port and device set
type Slot struct {
	ID      int
	Port    int
	Devices []int
}

// DeviceList renders the devices as a CUDA_VISIBLE_DEVICES value
func (s *Slot) DeviceList() string {
	out := ""
	for i, d := range s.Devices {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprint(d)
	}
	return out
}

// SlotPool hands out a fixed number of slots. Acquire blocks until a slot is
// free or the context ends.
type SlotPool struct {
	slots []*slotInfo
	free  chan int
	mu    sync.Mutex
}

type slotInfo struct {
	slot       Slot
	inUse      bool
	acquired   int
	lastUsedAt time.Time
}

// NewSlotPool creates size slots. Slot i listens on portBase+i. Devices are
// dealt out devicesPerSlot at a time and never shared between slots.
func NewSlotPool(size, portBase int, devices []int, devicesPerSlot int) (*SlotPool, error) {
	if size < 1 {
		size = 1
	}
	if len(devices) > 0 {
		if devicesPerSlot < 1 {
			return nil, fmt.Errorf("devices per slot must be at least 1, got %d", devicesPerSlot)
		}
		if need := size * devicesPerSlot; len(devices) < need {
			return nil, fmt.Errorf("%d slots of %d devices need %d devices, got %d", size, devicesPerSlot, need, len(devices))
		}
	}
	p := &SlotPool{free: make(chan int, size)}
	for i := 0; i < size; i++ {
		s := Slot{ID: i}
		if portBase > 0 {
			s.Port = portBase + i
		}
		if len(devices) > 0 {
			s.Devices = append(s.Devices, devices[i*devicesPerSlot:(i+1)*devicesPerSlot]...)
		}
		p.slots = append(p.slots, &slotInfo{slot: s})
		p.free <- i
	}
	return p, nil
}

// Size returns the total number of slots
func (p *SlotPool) Size() int {
	return len(p.slots)
}

// Acquire takes a free slot
func (p *SlotPool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case id := <-p.free:
		p.mu.Lock()
		defer p.mu.Unlock()
		info := p.slots[id]
		info.inUse = true
		info.acquired++
		info.lastUsedAt = time.Now()
		s := info.slot
		s.Devices = append([]int(nil), info.slot.Devices...)
		return &s, nil
	}
}

// Release returns a slot to the pool
func (p *SlotPool) Release(s *Slot) error {
	if s == nil {
		return nil
	}
	p.mu.Lock()
	if s.ID < 0 || s.ID >= len(p.slots) {
		p.mu.Unlock()
		return fmt.Errorf("slot %d not found", s.ID)
	}
	info := p.slots[s.ID]
	if !info.inUse {
		p.mu.Unlock()
		return fmt.Errorf("slot %d released twice", s.ID)
	}
	info.inUse = false
	info.lastUsedAt = time.Now()
	p.mu.Unlock()

	p.free <- s.ID
	return nil
}

// GetStatistics returns slot pool statistics
func (p *SlotPool) GetStatistics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	inUse := 0
	acquisitions := 0
	for _, info := range p.slots {
		if info.inUse {
			inUse++
		}
		acquisitions += info.acquired
	}
	return map[string]interface{}{
		"total_slots":  len(p.slots),
		"in_use":       inUse,
		"available":    len(p.slots) - inUse,
		"acquisitions": acquisitions,
		"utilization":  float64(inUse) / float64(len(p.slots)),
	}
}
