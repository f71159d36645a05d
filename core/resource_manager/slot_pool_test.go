package resource_manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPoolLayout(t *testing.T) {
	p, err := NewSlotPool(3, 29500, []int{0, 1, 2, 3, 4, 5}, 2)
	require.NoError(t, err)
	require.Equal(t, 3, p.Size())

	ctx := context.Background()
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.Equal(t, 29500+s.ID, s.Port)
		assert.Len(t, s.Devices, 2)
		for _, d := range s.Devices {
			assert.False(t, seen[d], "device %d handed out twice", d)
			seen[d] = true
		}
	}
	assert.Len(t, seen, 6)
}

func TestSlotPoolRejectsSharedDevices(t *testing.T) {
	tests := []struct {
		name           string
		size           int
		devices        []int
		devicesPerSlot int
		want           string
	}{
		{"one short", 3, []int{0, 1}, 1, "3 slots of 1 devices need 3 devices, got 2"},
		{"wide slots", 2, []int{0, 1, 2}, 2, "need 4 devices"},
		{"no devices per slot", 2, []int{0, 1}, 0, "at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSlotPool(tt.size, 29600, tt.devices, tt.devicesPerSlot)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSlotPoolHeldSlotsNeverOverlap(t *testing.T) {
	p, err := NewSlotPool(3, 29600, []int{0, 1, 2}, 1)
	require.NoError(t, err)

	ctx := context.Background()
	owner := map[int]int{}
	for i := 0; i < 3; i++ {
		s, err := p.Acquire(ctx)
		require.NoError(t, err)
		for _, d := range s.Devices {
			prev, taken := owner[d]
			assert.False(t, taken, "slot %d and slot %d both hold device %d", prev, s.ID, d)
			owner[d] = s.ID
		}
	}
}

func TestSlotPoolWithoutDevices(t *testing.T) {
	p, err := NewSlotPool(2, 0, nil, 0)
	require.NoError(t, err)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.DeviceList())
	assert.Zero(t, s.Port)
}

func TestSlotPoolBlocksUntilRelease(t *testing.T) {
	p, err := NewSlotPool(1, 0, nil, 0)
	require.NoError(t, err)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *Slot, 1)
	go func() {
		s2, err := p.Acquire(context.Background())
		if err == nil {
			got <- s2
		}
	}()
	require.NoError(t, p.Release(s))
	select {
	case s2 := <-got:
		assert.Equal(t, 0, s2.ID)
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}
}

func TestSlotPoolRelease(t *testing.T) {
	p, err := NewSlotPool(2, 0, nil, 0)
	require.NoError(t, err)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	stats := p.GetStatistics()
	assert.Equal(t, 1, stats["in_use"])

	require.NoError(t, p.Release(s))
	assert.ErrorContains(t, p.Release(s), "released twice")
	assert.ErrorContains(t, p.Release(&Slot{ID: 9}), "not found")
	assert.NoError(t, p.Release(nil))
	assert.Equal(t, 0, p.GetStatistics()["in_use"])
}
