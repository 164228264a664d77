// Package slotutil provides a ticker that fires in lock-step with the
// beacon chain's slot and epoch clock, plus helpers for converting between
// wall-clock time and slot/epoch numbers.
package slotutil

import (
	"time"

	types "github.com/prysmaticlabs/eth2-types"
)

// SlotTicker is a special ticker for the beacon chain block processing loop.
// The channel emits over the slot interval and ensures the ticks are in
// lock-step with genesis time: the duration between any tick and genesis is
// always a whole multiple of the slot duration, regardless of scheduling
// jitter.
type SlotTicker struct {
	c    chan types.Slot
	done chan struct{}
}

// C returns the ticker channel. Call Done afterwards to ensure the
// goroutine exits cleanly.
func (s *SlotTicker) C() <-chan types.Slot {
	return s.c
}

// Done cleans up the ticker's goroutine.
func (s *SlotTicker) Done() {
	go func() {
		s.done <- struct{}{}
	}()
}

// NewSlotTicker is the constructor for SlotTicker.
func NewSlotTicker(genesisTime time.Time, secondsPerSlot uint64) *SlotTicker {
	ticker := &SlotTicker{
		c:    make(chan types.Slot),
		done: make(chan struct{}),
	}
	ticker.start(genesisTime, secondsPerSlot, time.Since, time.Until, time.After)
	return ticker
}

func (s *SlotTicker) start(
	genesisTime time.Time,
	secondsPerSlot uint64,
	since func(time.Time) time.Duration,
	until func(time.Time) time.Duration,
	after func(time.Duration) <-chan time.Time) {
	d := time.Duration(secondsPerSlot) * time.Second

	go func() {
		sinceGenesis := since(genesisTime)

		var nextTickTime time.Time
		var slot types.Slot
		if sinceGenesis < 0 {
			nextTickTime = genesisTime
			slot = 0
		} else {
			nextTick := sinceGenesis.Truncate(d) + d
			nextTickTime = genesisTime.Add(nextTick)
			slot = types.Slot(uint64(nextTick / d))
		}

		for {
			waitTime := until(nextTickTime)
			select {
			case <-after(waitTime):
				s.c <- slot
				slot++
				nextTickTime = nextTickTime.Add(d)
			case <-s.done:
				return
			}
		}
	}()
}

// EpochTicker fires once per epoch, in lock-step with genesis time the same
// way SlotTicker fires once per slot.
type EpochTicker struct {
	c    chan types.Epoch
	done chan struct{}
}

// C returns the ticker channel.
func (e *EpochTicker) C() <-chan types.Epoch {
	return e.c
}

// Done cleans up the ticker's goroutine.
func (e *EpochTicker) Done() {
	go func() {
		e.done <- struct{}{}
	}()
}

// NewEpochTicker is the constructor for EpochTicker. secondsPerEpoch is
// typically SecondsPerSlot * SlotsPerEpoch.
func NewEpochTicker(genesisTime time.Time, secondsPerEpoch uint64) *EpochTicker {
	ticker := &EpochTicker{
		c:    make(chan types.Epoch),
		done: make(chan struct{}),
	}
	ticker.start(genesisTime, secondsPerEpoch, time.Since, time.Until, time.After)
	return ticker
}

func (e *EpochTicker) start(
	genesisTime time.Time,
	secondsPerEpoch uint64,
	since func(time.Time) time.Duration,
	until func(time.Time) time.Duration,
	after func(time.Duration) <-chan time.Time) {
	d := time.Duration(secondsPerEpoch) * time.Second

	go func() {
		sinceGenesis := since(genesisTime)

		var nextTickTime time.Time
		var epoch types.Epoch
		if sinceGenesis < 0 {
			nextTickTime = genesisTime
			epoch = 0
		} else {
			nextTick := sinceGenesis.Truncate(d) + d
			nextTickTime = genesisTime.Add(nextTick)
			epoch = types.Epoch(uint64(nextTick / d))
		}

		for {
			waitTime := until(nextTickTime)
			select {
			case <-after(waitTime):
				e.c <- epoch
				epoch++
				nextTickTime = nextTickTime.Add(d)
			case <-e.done:
				return
			}
		}
	}()
}

// SlotsSinceGenesis returns the number of whole slots elapsed since
// genesisTime, given the current time. A negative elapsed duration (current
// time before genesis) returns 0.
func SlotsSinceGenesis(genesisTime time.Time, secondsPerSlot uint64) types.Slot {
	elapsed := time.Since(genesisTime)
	if elapsed < 0 {
		return 0
	}
	return types.Slot(uint64(elapsed.Seconds()) / secondsPerSlot)
}

// SlotStartTime returns the wall-clock time at which the given slot begins.
func SlotStartTime(genesisTime time.Time, slot types.Slot, secondsPerSlot uint64) time.Time {
	duration := time.Duration(uint64(slot)*secondsPerSlot) * time.Second
	return genesisTime.Add(duration)
}
