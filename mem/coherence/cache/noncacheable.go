package cache

import (
	"fmt"

	"github.com/sarchlab/coherence/mem/coherence"
)

func (c *Comp) isNoncacheable(ev *coherence.MemEvent) bool {
	if ev.HasFlag(coherence.FlagNoncacheable) {
		return true
	}

	if !c.allNoncacheable {
		return false
	}

	return ev.Cmd.IsRequest() || ev.Cmd.IsResponse()
}

// handleNoncacheable passes requests down and responses up without touching
// the lines or the MSHR.
func (c *Comp) handleNoncacheable(ev *coherence.MemEvent) {
	if ev.Cmd.IsRequest() {
		fwd := c.ctrl.ForwardNoncacheable(ev, c.lower)
		c.noncacheable[fwd.ID] = ev

		return
	}

	if !ev.Cmd.IsResponse() {
		c.fail(fmt.Errorf("%s: non-cacheable %s for 0x%x is not supported",
			c.Name(), ev.Cmd, ev.BaseAddr))

		return
	}

	c.traceFinalize(ev)

	req, found := c.noncacheable[ev.RespondTo]
	if !found {
		c.fail(fmt.Errorf("%s: no non-cacheable request for %s %s",
			c.Name(), ev.Cmd, ev.RespondTo))

		return
	}

	delete(c.noncacheable, ev.RespondTo)

	rsp := c.ctrl.ForwardNoncacheable(ev, req.Src)
	rsp.RespondTo = req.ID
}
