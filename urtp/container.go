package urtp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// containerState tracks where a datagram container is in its life cycle.
//
// The normal cycle is EMPTY -> WRITING -> READY_TO_READ -> READING ->
// EMPTY; no other transition is legal. At most one container is WRITING
// and at most one is READING at any instant.
type containerState uint8

const (
	containerEmpty containerState = iota
	containerWriting
	containerReadyToRead
	containerReading
)

func (s containerState) String() string {
	switch s {
	case containerEmpty:
		return "EMPTY"
	case containerWriting:
		return "WRITING"
	case containerReadyToRead:
		return "READY_TO_READ"
	case containerReading:
		return "READING"
	default:
		return "INVALID"
	}
}

// container is one slot of the datagram pool.
type container struct {
	state containerState
	buf   []byte
}

// ringEvents reports what a write side operation observed, so the codec
// can fire callbacks without holding the ring lock.
type ringEvents struct {
	overflowStarted bool
	// overflowStopped is the count accumulated over the run that just
	// ended, or zero when no run ended.
	overflowStopped int
}

// containerRing is the bounded pool of datagram buffers. Cursor movement
// is single-writer from each side; the state field is the handoff token.
// One lock covers all state, which the pipeline's two-goroutine access
// pattern keeps uncontended in practice.
type containerRing struct {
	mu         sync.Mutex
	containers []container
	nextWrite  int
	nextRead   int
	free       int
	minFree    int
	// overflows counts the current run of consecutive overwrites.
	overflows int
}

// newContainerRing allocates n containers of size bytes each, all EMPTY.
func newContainerRing(n, size int) *containerRing {
	r := &containerRing{
		containers: make([]container, n),
		free:       n,
		minFree:    n,
	}
	for i := range r.containers {
		r.containers[i].buf = make([]byte, size)
	}
	return r
}

// next steps a cursor around the ring.
func (r *containerRing) next(i int) int {
	i++
	if i == len(r.containers) {
		i = 0
	}
	return i
}

// getForWriting claims the next container for the encoder, always
// succeeding even when old data has to be overwritten. The claimed
// container comes back WRITING.
//
// A container still being read must not be clobbered, so a READING slot
// is skipped. Overwriting any other non-EMPTY slot discards the oldest
// datagram: the read cursor is nudged forward one so it cannot wrap the
// write cursor, and the overflow run accounting is updated.
func (r *containerRing) getForWriting() (int, ringEvents) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ev ringEvents
	idx := r.nextWrite
	for n := 0; r.containers[idx].state == containerReading && n < len(r.containers); n++ {
		idx = r.next(idx)
	}
	r.nextWrite = r.next(idx)

	if r.containers[idx].state == containerEmpty {
		r.free--
		if r.free < r.minFree {
			r.minFree = r.free
		}
		if r.overflows > 0 {
			ev.overflowStopped = r.overflows
			logrus.WithField("overflows", r.overflows).Info("datagram overflow run ended")
			r.overflows = 0
		}
	} else {
		r.nextRead = r.next(r.nextRead)
		if r.overflows == 0 {
			ev.overflowStarted = true
			logrus.WithField("container", idx).Warn("datagram overflow begins")
		}
		r.overflows++
	}
	r.containers[idx].state = containerWriting

	return idx, ev
}

// setReadyToRead moves a WRITING container to READY_TO_READ.
func (r *containerRing) setReadyToRead(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.containers[idx].state; s != containerWriting {
		logrus.WithFields(logrus.Fields{
			"container": idx,
			"state":     s.String(),
		}).Error("container not WRITING when marked ready")
		return
	}
	r.containers[idx].state = containerReadyToRead
}

// getForReading returns the index of the next readable container, marking
// it READING, or -1 when nothing is ready. A container already READING is
// returned again; the reader owns it until setRead.
func (r *containerRing) getForReading() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.nextRead
	switch r.containers[idx].state {
	case containerReadyToRead, containerReading:
		r.containers[idx].state = containerReading
		return idx
	default:
		return -1
	}
}

// setRead releases a READING container back to EMPTY and advances the
// read cursor past it.
func (r *containerRing) setRead(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.containers[idx].state; s != containerReading {
		logrus.WithFields(logrus.Fields{
			"container": idx,
			"state":     s.String(),
		}).Error("container not READING when marked read")
		return
	}
	r.nextRead = r.next(idx)
	r.containers[idx].state = containerEmpty
	r.free++
}

// findByBuffer maps a datagram slice back to its container index, or -1.
// The slice handed out by the reader aliases the container's buffer, so
// identity of the first byte is sufficient.
func (r *containerRing) findByBuffer(datagram []byte) int {
	if len(datagram) == 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.containers {
		if &r.containers[i].buf[0] == &datagram[0] {
			return i
		}
	}
	return -1
}

// statsLocked helpers.

// freeCount returns the number of EMPTY containers.
func (r *containerRing) freeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.free
}

// minFreeCount returns the low water mark of freeCount.
func (r *containerRing) minFreeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minFree
}

// availableCount returns the number of containers holding data in some
// stage of the cycle (anything not EMPTY).
func (r *containerRing) availableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers) - r.free
}
