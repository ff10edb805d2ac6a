package coherence

// Action tells the cache what to do with an event after a controller
// processed it.
type Action int

const (
	// ActionDone retires the transaction and wakes the events waiting
	// behind it.
	ActionDone Action = iota

	// ActionStall keeps the event in the MSHR until it can make progress.
	ActionStall

	// ActionBlock keeps an invalidation or replacement behind the
	// transaction that currently owns the line.
	ActionBlock

	// ActionIgnore means the event was consumed without retiring the
	// active transaction.
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionDone:
		return "DONE"
	case ActionStall:
		return "STALL"
	case ActionBlock:
		return "BLOCK"
	case ActionIgnore:
		return "IGNORE"
	}

	return "UNKNOWN"
}
