package urtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerRingLifecycle(t *testing.T) {
	r := newContainerRing(4, 8)

	assert.Equal(t, 4, r.freeCount())
	assert.Equal(t, 0, r.availableCount())

	idx, ev := r.getForWriting()
	assert.Equal(t, 0, idx)
	assert.False(t, ev.overflowStarted)
	assert.Zero(t, ev.overflowStopped)
	assert.Equal(t, 3, r.freeCount())

	// Nothing is readable while the slot is still WRITING.
	assert.Equal(t, -1, r.getForReading())

	r.setReadyToRead(idx)
	got := r.getForReading()
	assert.Equal(t, idx, got)

	// Re-fetching the same READING container is allowed; the reader
	// owns it until release.
	assert.Equal(t, idx, r.getForReading())

	r.setRead(idx)
	assert.Equal(t, 4, r.freeCount())
	assert.Equal(t, -1, r.getForReading())
}

func TestContainerRingFreePlusUsedIsConstant(t *testing.T) {
	const n = 8
	r := newContainerRing(n, 8)

	for step := 0; step < 3*n; step++ {
		idx, _ := r.getForWriting()
		r.setReadyToRead(idx)
		assert.Equal(t, n, r.freeCount()+r.availableCount())

		if step%2 == 0 {
			ri := r.getForReading()
			require.GreaterOrEqual(t, ri, 0)
			r.setRead(ri)
		}
		assert.Equal(t, n, r.freeCount()+r.availableCount())
	}
}

func TestContainerRingOverflowDropsOldestFirst(t *testing.T) {
	const n = 4
	r := newContainerRing(n, 8)

	// Fill the ring completely without consuming.
	for i := 0; i < n; i++ {
		idx, ev := r.getForWriting()
		assert.False(t, ev.overflowStarted)
		r.setReadyToRead(idx)
	}
	assert.Equal(t, 0, r.freeCount())

	// One more write laps the reader: the oldest slot is overwritten,
	// the read cursor is nudged forward and an overflow run starts.
	idx, ev := r.getForWriting()
	assert.Equal(t, 0, idx)
	assert.True(t, ev.overflowStarted)
	r.setReadyToRead(idx)

	// A second lap continues the same run without a fresh start event.
	idx, ev = r.getForWriting()
	assert.Equal(t, 1, idx)
	assert.False(t, ev.overflowStarted)
	r.setReadyToRead(idx)

	// The reader now starts from the nudged cursor (slot 2, the oldest
	// surviving datagram).
	ri := r.getForReading()
	assert.Equal(t, 2, ri)
	r.setRead(ri)

	// Space opened up: the next write ends the run and reports its
	// accumulated count.
	idx, ev = r.getForWriting()
	assert.Equal(t, 2, idx)
	assert.False(t, ev.overflowStarted)
	assert.Equal(t, 2, ev.overflowStopped)
	_ = idx
}

func TestContainerRingSkipsReadingSlot(t *testing.T) {
	const n = 3
	r := newContainerRing(n, 8)

	// Fill and start reading slot 0.
	for i := 0; i < n; i++ {
		idx, _ := r.getForWriting()
		r.setReadyToRead(idx)
	}
	ri := r.getForReading()
	require.Equal(t, 0, ri)

	// The writer wraps around to slot 0 but must not clobber a live
	// read; it skips to slot 1 instead.
	idx, ev := r.getForWriting()
	assert.Equal(t, 1, idx)
	assert.True(t, ev.overflowStarted)

	// The reader's slot was left alone throughout.
	r.setRead(ri)
	assert.Equal(t, 1, r.freeCount())
}

func TestContainerRingMinFreeWatermark(t *testing.T) {
	r := newContainerRing(4, 8)

	a, _ := r.getForWriting()
	b, _ := r.getForWriting()
	r.setReadyToRead(a)
	r.setReadyToRead(b)
	assert.Equal(t, 2, r.minFreeCount())

	ri := r.getForReading()
	r.setRead(ri)
	assert.Equal(t, 3, r.freeCount())
	assert.Equal(t, 2, r.minFreeCount(), "watermark keeps the low point")
}

func TestContainerRingFindByBuffer(t *testing.T) {
	r := newContainerRing(2, 8)

	assert.Equal(t, 0, r.findByBuffer(r.containers[0].buf))
	assert.Equal(t, 1, r.findByBuffer(r.containers[1].buf))
	assert.Equal(t, -1, r.findByBuffer(make([]byte, 8)))
	assert.Equal(t, -1, r.findByBuffer(nil))
}
