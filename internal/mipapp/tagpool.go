// Package mipapp implements C7, the MIP-app translator: tag management
// for correlating uplink responses with downlink requests, SICB↔APDU
// conversion, completion-event delivery, and the local NM/NSS escape
// subset (§4.7).
package mipapp

import "github.com/lonworks/lon-device-stack/internal/wire"

// DefaultPoolSize is the tag pool's slot count: tags are 4 bits, so at
// most 16 requests can be outstanding at once (§4.7, §8.7).
const DefaultPoolSize = 16

type slot struct {
	used     bool
	instance uint32
	sicb     *wire.SICB
}

// TagPool is a bounded pool of request slots keyed by a 4-bit tag. On
// allocation it picks the first free slot, or evicts the oldest
// in-flight request (by unsigned-difference comparison over a
// monotonically incrementing instance counter) when the pool is full
// (§4.7, §8.7).
type TagPool struct {
	slots    []slot
	nextInst uint32
}

// NewTagPool creates a pool with size slots; a size outside [1,16]
// selects DefaultPoolSize.
func NewTagPool(size int) *TagPool {
	if size <= 0 || size > 16 {
		size = DefaultPoolSize
	}
	return &TagPool{slots: make([]slot, size)}
}

// sequenceAfter reports whether a is strictly newer than b under wraparound,
// the standard unsigned-difference sequence-number comparison.
func sequenceAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// Allocate stores sicb for later response correlation and returns the tag
// it was assigned, plus whether an in-flight request was evicted to make
// room.
func (p *TagPool) Allocate(sicb *wire.SICB) (tag byte, evicted bool) {
	inst := p.nextInst
	p.nextInst++

	for i := range p.slots {
		if !p.slots[i].used {
			p.slots[i] = slot{used: true, instance: inst, sicb: sicb}
			return byte(i), false
		}
	}

	oldest := 0
	for i := 1; i < len(p.slots); i++ {
		if sequenceAfter(p.slots[oldest].instance, p.slots[i].instance) {
			oldest = i
		}
	}
	p.slots[oldest] = slot{used: true, instance: inst, sicb: sicb}
	return byte(oldest), true
}

// Lookup returns the pending request stored at tag, if any is still live.
func (p *TagPool) Lookup(tag byte) (*wire.SICB, bool) {
	if int(tag) >= len(p.slots) || !p.slots[tag].used {
		return nil, false
	}
	return p.slots[tag].sicb, true
}

// Release frees tag's slot. A late completion for an already-evicted tag
// must never be delivered to the application (§8.7) — Release is a no-op
// in that case since the slot now belongs to a newer request (or none).
func (p *TagPool) Release(tag byte) {
	if int(tag) >= len(p.slots) {
		return
	}
	p.slots[tag] = slot{}
}

// InFlight reports how many slots are currently occupied.
func (p *TagPool) InFlight() int {
	n := 0
	for _, s := range p.slots {
		if s.used {
			n++
		}
	}
	return n
}
