package messagepipeline

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type offsetState int

const (
	offsetPending offsetState = iota
	offsetAcked
	offsetNacked
)

// partitionOffsets holds the fetched but uncommitted offsets of one
// partition, in fetch order.
type partitionOffsets struct {
	order  []int64
	states map[int64]offsetState
}

// offsetTracker turns per-message Acks into cumulative commits. Only the
// contiguous run of Acked offsets at the front of a partition is committed;
// a pending or Nacked offset stops the run.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		p = &partitionOffsets{states: make(map[int64]offsetState)}
		t.partitions[msg.Partition] = p
	}
	if _, seen := p.states[msg.Offset]; seen {
		return
	}
	p.order = append(p.order, msg.Offset)
	p.states[msg.Offset] = offsetPending
}

// ack marks msg Acked and, when that extends the committable run, calls
// commit with the last message of the run. commit runs under the tracker
// lock so commits on a partition never go backwards.
func (t *offsetTracker) ack(msg kafka.Message, commit func(upTo kafka.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[msg.Partition]
	if !ok {
		return
	}
	if state, seen := p.states[msg.Offset]; !seen || state == offsetNacked {
		return
	}
	p.states[msg.Offset] = offsetAcked

	last := int64(-1)
	n := 0
	for _, off := range p.order {
		if p.states[off] != offsetAcked {
			break
		}
		last = off
		delete(p.states, off)
		n++
	}
	if n == 0 {
		return
	}
	p.order = p.order[n:]
	commit(kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: last})
}

// nack marks msg Nacked. Nothing at or after it on the partition is
// committed by this consumer again.
func (t *offsetTracker) nack(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.partitions[msg.Partition]; ok {
		if _, seen := p.states[msg.Offset]; seen {
			p.states[msg.Offset] = offsetNacked
		}
	}
}
