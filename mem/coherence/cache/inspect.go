package cache

import (
	"fmt"

	"github.com/sarchlab/coherence/mem/coherence"
)

// PendingEntry summarizes what the MSHR keeps for one line.
type PendingEntry struct {
	Addr       uint64   `json:"addr"`
	Waiters    []string `json:"waiters"`
	AcksNeeded int      `json:"acks_needed"`
}

// Lines returns the lines of the tag array.
func (c *Comp) Lines() []*coherence.CacheLine {
	return c.array.Lines()
}

// Line returns the line bound to addr, or nil.
func (c *Comp) Line(addr uint64) *coherence.CacheLine {
	return c.array.Lookup(addr, false)
}

// Pending lists the MSHR entries in address order.
func (c *Comp) Pending() []PendingEntry {
	addrs := c.mshr.Addresses()
	entries := make([]PendingEntry, 0, len(addrs))

	for _, addr := range addrs {
		entry := PendingEntry{
			Addr:       addr,
			AcksNeeded: c.mshr.AcksNeeded(addr),
		}

		for _, el := range c.mshr.Elements(addr) {
			if el.Event != nil {
				entry.Waiters = append(entry.Waiters,
					fmt.Sprintf("%s %s from %s", el.Kind, el.Event.Cmd, el.Event.Src))
			} else {
				entry.Waiters = append(entry.Waiters,
					fmt.Sprintf("%s 0x%x", el.Kind, el.Addr))
			}
		}

		entries = append(entries, entry)
	}

	return entries
}

// IsIdle tells if nothing is queued, outstanding, or waiting to be sent.
func (c *Comp) IsIdle() bool {
	return len(c.incoming) == 0 &&
		len(c.mshr.Addresses()) == 0 &&
		len(c.noncacheable) == 0 &&
		!c.ctrl.HasPendingOutgoing()
}

// CheckInvariants verifies that every line is consistent with its state and
// that the directory and data slots point to each other.
func (c *Comp) CheckInvariants() error {
	for _, line := range c.array.Lines() {
		if err := line.CheckInvariant(); err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}

		if line.IsStable() && line.State != coherence.I &&
			line.HasOwner() && line.HasSharers() {
			return fmt.Errorf("%s: line 0x%x has owner %s and sharers %v",
				c.Name(), line.BaseAddr, line.Owner, line.Sharers())
		}
	}

	if checker, ok := c.array.(interface{ CheckLinks() error }); ok {
		if err := checker.CheckLinks(); err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}
	}

	return nil
}
