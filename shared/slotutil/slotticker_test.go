package slotutil

import (
	"testing"
	"time"

	types "github.com/prysmaticlabs/eth2-types"
)

func TestSlotTicker(t *testing.T) {
	ticker := &SlotTicker{
		c:    make(chan types.Slot),
		done: make(chan struct{}),
	}
	defer ticker.Done()

	var sinceDuration time.Duration
	since := func(time.Time) time.Duration {
		return sinceDuration
	}

	var untilDuration time.Duration
	until := func(time.Time) time.Duration {
		return untilDuration
	}

	var tick chan time.Time
	after := func(time.Duration) <-chan time.Time {
		return tick
	}

	genesisTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsPerSlot := uint64(12)

	sinceDuration = 1 * time.Second
	untilDuration = 11 * time.Second

	tick = make(chan time.Time, 2)
	ticker.start(genesisTime, secondsPerSlot, since, until, after)

	tick <- time.Now()
	slot := <-ticker.C()
	if slot != 1 {
		t.Fatalf("Expected %d, got %d", 1, slot)
	}

	tick <- time.Now()
	slot = <-ticker.C()
	if slot != 2 {
		t.Fatalf("Expected %d, got %d", 2, slot)
	}
}

func TestSlotTickerGenesis(t *testing.T) {
	ticker := &SlotTicker{
		c:    make(chan types.Slot),
		done: make(chan struct{}),
	}
	defer ticker.Done()

	var sinceDuration time.Duration
	since := func(time.Time) time.Duration {
		return sinceDuration
	}

	var untilDuration time.Duration
	until := func(time.Time) time.Duration {
		return untilDuration
	}

	var tick chan time.Time
	after := func(time.Duration) <-chan time.Time {
		return tick
	}

	genesisTime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsPerSlot := uint64(12)

	sinceDuration = -1 * time.Second
	untilDuration = 1 * time.Second

	tick = make(chan time.Time, 2)
	ticker.start(genesisTime, secondsPerSlot, since, until, after)

	tick <- time.Now()
	slot := <-ticker.C()
	if slot != 0 {
		t.Fatalf("Expected %d, got %d", 0, slot)
	}

	tick <- time.Now()
	slot = <-ticker.C()
	if slot != 1 {
		t.Fatalf("Expected %d, got %d", 1, slot)
	}
}

func TestEpochTicker(t *testing.T) {
	ticker := &EpochTicker{
		c:    make(chan types.Epoch),
		done: make(chan struct{}),
	}
	defer ticker.Done()

	var sinceDuration time.Duration
	since := func(time.Time) time.Duration {
		return sinceDuration
	}

	var untilDuration time.Duration
	until := func(time.Time) time.Duration {
		return untilDuration
	}

	var tick chan time.Time
	after := func(time.Duration) <-chan time.Time {
		return tick
	}

	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsPerEpoch := uint64(8)

	sinceDuration = 1 * time.Second
	untilDuration = 7 * time.Second

	tick = make(chan time.Time, 2)
	ticker.start(genesisTime, secondsPerEpoch, since, until, after)

	tick <- time.Now()
	epoch := <-ticker.C()
	if epoch != 1 {
		t.Fatalf("Expected %d, got %d", 1, epoch)
	}

	tick <- time.Now()
	epoch = <-ticker.C()
	if epoch != 2 {
		t.Fatalf("Expected %d, got %d", 2, epoch)
	}
}

func TestEpochTickerGenesis(t *testing.T) {
	ticker := &EpochTicker{
		c:    make(chan types.Epoch),
		done: make(chan struct{}),
	}
	defer ticker.Done()

	var sinceDuration time.Duration
	since := func(time.Time) time.Duration {
		return sinceDuration
	}

	var untilDuration time.Duration
	until := func(time.Time) time.Duration {
		return untilDuration
	}

	var tick chan time.Time
	after := func(time.Duration) <-chan time.Time {
		return tick
	}

	genesisTime := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	secondsPerEpoch := uint64(8)

	sinceDuration = -1 * time.Second
	untilDuration = 1 * time.Second

	tick = make(chan time.Time, 2)
	ticker.start(genesisTime, secondsPerEpoch, since, until, after)

	tick <- time.Now()
	epoch := <-ticker.C()
	if epoch != 0 {
		t.Fatalf("Expected %d, got %d", 0, epoch)
	}

	tick <- time.Now()
	epoch = <-ticker.C()
	if epoch != 1 {
		t.Fatalf("Expected %d, got %d", 1, epoch)
	}
}
