// Package tagging maps line addresses to slots and picks victims.
package tagging

import (
	"fmt"
	"math/rand"
)

// A ReplacementPolicy ranks the slots of an array. The array narrows the
// candidates to the slots that are safe to evict; the policy picks one.
type ReplacementPolicy interface {
	// Touch records an access to the slot.
	Touch(index int)

	// Reset forgets the history of a slot that was just rebound.
	Reset(index int)

	// Victim picks one of the candidate slots.
	Victim(candidates []int) int
}

// NewPolicy creates a policy by name. The seed only matters to the random
// policies.
func NewPolicy(name string, numSlots int, seed int64) (ReplacementPolicy, error) {
	switch name {
	case "lru", "LRU", "":
		return NewLRU(numSlots), nil
	case "lfu", "LFU":
		return NewLFU(numSlots), nil
	case "mru", "MRU":
		return NewMRU(numSlots), nil
	case "nmru", "NMRU":
		return NewNMRU(numSlots, seed), nil
	case "random", "Random":
		return NewRandom(seed), nil
	}

	return nil, fmt.Errorf("unknown replacement policy %q", name)
}

type recency struct {
	clock    uint64
	lastUsed []uint64
}

func newRecency(numSlots int) recency {
	return recency{lastUsed: make([]uint64, numSlots)}
}

func (r *recency) touch(index int) {
	r.clock++
	r.lastUsed[index] = r.clock
}

// LRU evicts the least recently used slot.
type LRU struct {
	recency
}

// NewLRU creates an LRU policy.
func NewLRU(numSlots int) *LRU {
	return &LRU{recency: newRecency(numSlots)}
}

// Touch marks the slot as the most recently used.
func (p *LRU) Touch(index int) {
	p.touch(index)
}

// Reset treats a rebound slot as just used.
func (p *LRU) Reset(index int) {
	p.touch(index)
}

// Victim returns the least recently used candidate.
func (p *LRU) Victim(candidates []int) int {
	victim := candidates[0]
	for _, c := range candidates[1:] {
		if p.lastUsed[c] < p.lastUsed[victim] {
			victim = c
		}
	}

	return victim
}

// MRU evicts the most recently used slot.
type MRU struct {
	recency
}

// NewMRU creates an MRU policy.
func NewMRU(numSlots int) *MRU {
	return &MRU{recency: newRecency(numSlots)}
}

// Touch marks the slot as the most recently used.
func (p *MRU) Touch(index int) {
	p.touch(index)
}

// Reset treats a rebound slot as just used.
func (p *MRU) Reset(index int) {
	p.touch(index)
}

// Victim returns the most recently used candidate.
func (p *MRU) Victim(candidates []int) int {
	victim := candidates[0]
	for _, c := range candidates[1:] {
		if p.lastUsed[c] > p.lastUsed[victim] {
			victim = c
		}
	}

	return victim
}

// LFU evicts the least frequently used slot. Ties go to the least recently
// used one.
type LFU struct {
	recency
	count []uint64
}

// NewLFU creates an LFU policy.
func NewLFU(numSlots int) *LFU {
	return &LFU{
		recency: newRecency(numSlots),
		count:   make([]uint64, numSlots),
	}
}

// Touch counts an access.
func (p *LFU) Touch(index int) {
	p.touch(index)
	p.count[index]++
}

// Reset clears the access count.
func (p *LFU) Reset(index int) {
	p.touch(index)
	p.count[index] = 1
}

// Victim returns the least frequently used candidate.
func (p *LFU) Victim(candidates []int) int {
	victim := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case p.count[c] < p.count[victim]:
			victim = c
		case p.count[c] == p.count[victim] &&
			p.lastUsed[c] < p.lastUsed[victim]:
			victim = c
		}
	}

	return victim
}

// NMRU evicts a random slot other than the most recently used one.
type NMRU struct {
	recency
	rand *rand.Rand
}

// NewNMRU creates an NMRU policy.
func NewNMRU(numSlots int, seed int64) *NMRU {
	return &NMRU{
		recency: newRecency(numSlots),
		rand:    rand.New(rand.NewSource(seed)),
	}
}

// Touch marks the slot as the most recently used.
func (p *NMRU) Touch(index int) {
	p.touch(index)
}

// Reset treats a rebound slot as just used.
func (p *NMRU) Reset(index int) {
	p.touch(index)
}

// Victim returns a random candidate that is not the most recently used.
func (p *NMRU) Victim(candidates []int) int {
	if len(candidates) == 1 {
		return candidates[0]
	}

	mru := candidates[0]
	for _, c := range candidates[1:] {
		if p.lastUsed[c] > p.lastUsed[mru] {
			mru = c
		}
	}

	pick := p.rand.Intn(len(candidates) - 1)
	for _, c := range candidates {
		if c == mru {
			continue
		}

		if pick == 0 {
			return c
		}
		pick--
	}

	return mru
}

// Random evicts a random slot.
type Random struct {
	rand *rand.Rand
}

// NewRandom creates a random policy.
func NewRandom(seed int64) *Random {
	return &Random{rand: rand.New(rand.NewSource(seed))}
}

// Touch does nothing.
func (p *Random) Touch(int) {}

// Reset does nothing.
func (p *Random) Reset(int) {}

// Victim returns a random candidate.
func (p *Random) Victim(candidates []int) int {
	return candidates[p.rand.Intn(len(candidates))]
}
