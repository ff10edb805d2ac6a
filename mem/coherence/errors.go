package coherence

import (
	"errors"
	"fmt"

	"github.com/sarchlab/coherence/sim"
)

// ErrUnmatched marks responses and frees that match no outstanding request.
var ErrUnmatched = errors.New("unmatched event")

// ProtocolError reports an event that has no defined transition in the
// state of its line. It always indicates a bug in the model.
type ProtocolError struct {
	Cache     string
	Addr      uint64
	Cmd       Command
	State     State
	Requester string
	Time      sim.VTimeInSec
	Reason    string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf(
		"%s: %s for 0x%x in state %s from %s at %.10fs",
		e.Cache, e.Cmd, e.Addr, e.State, e.Requester, float64(e.Time))

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

// NewProtocolError creates a ProtocolError describing ev arriving at line.
// The line may be nil.
func NewProtocolError(
	cache string,
	ev *MemEvent,
	line *CacheLine,
	reason string,
) *ProtocolError {
	err := &ProtocolError{
		Cache:  cache,
		Reason: reason,
	}

	if ev != nil {
		err.Addr = ev.BaseAddr
		err.Cmd = ev.Cmd
		err.Requester = ev.Src
	}

	if line != nil {
		err.Addr = line.BaseAddr
		err.State = line.State
	}

	return err
}
