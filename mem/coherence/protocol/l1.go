package protocol

import "github.com/sarchlab/coherence/mem/coherence"

// MESIL1 is the controller of an L1 cache in a MESI or MSI hierarchy. It
// serves loads and stores from a core and tracks no upper holders.
type MESIL1 struct {
	*env

	msi bool
}

// HandleRequest serves GetS, GetX, and GetSEx from the core.
func (c *MESIL1) HandleRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch ev.Cmd {
	case coherence.GetS:
		return c.handleGetS(ev, line, replay)
	case coherence.GetX, coherence.GetSEx:
		return c.handleGetX(ev, line, replay)
	}

	return coherence.ActionIgnore, c.violation(ev, line, "not a request")
}

func (c *MESIL1) handleGetS(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch line.State {
	case coherence.I:
		if !c.allocateMSHR(ev, replay) {
			return coherence.ActionIgnore, nil
		}

		c.notify(ev, false)
		c.forwardRequest(ev, line, coherence.GetS, replay)
		line.State = coherence.IS

		return coherence.ActionStall, nil
	case coherence.S, coherence.E, coherence.M:
		c.notify(ev, true)
		serveRead(c.env, ev, line, replay)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func (c *MESIL1) handleGetX(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch line.State {
	case coherence.I, coherence.S:
		if !c.allocateMSHR(ev, replay) {
			return coherence.ActionIgnore, nil
		}

		c.notify(ev, false)
		c.forwardRequest(ev, line, coherence.GetX, replay)

		if line.State == coherence.S {
			c.count(coherence.StatUpgrade)
			line.State = coherence.SM
		} else {
			line.State = coherence.IM
		}

		return coherence.ActionStall, nil
	case coherence.E, coherence.M:
		c.notify(ev, true)
		line.State = coherence.M
		serveWrite(c.env, ev, line, replay)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

// HandleReplacement rejects writebacks; nothing sits above an L1.
func (c *MESIL1) HandleReplacement(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	_ *coherence.MemEvent,
) (coherence.Action, error) {
	return coherence.ActionIgnore, c.violation(ev, line, "writeback to an L1")
}

// HandleInvalidationRequest answers the level below. A line locked by a
// GetSEx holds invalidations back until the lock is released.
func (c *MESIL1) HandleInvalidationRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	if line == nil {
		return coherence.ActionIgnore, nil
	}

	switch line.State {
	case coherence.I, coherence.IS, coherence.IM:
		return coherence.ActionIgnore, nil
	}

	if line.UserLock > 0 && line.IsStable() {
		line.EventsWaitingForLock = true
		c.count(coherence.StatLockBlocked)
		c.placeInvalidation(ev, replay)

		return coherence.ActionStall, nil
	}

	line.EventsWaitingForLock = false

	switch ev.Cmd {
	case coherence.Inv:
		return c.handleInv(ev, line, replay)
	case coherence.FetchInv:
		return c.handleFetchInv(ev, line, replay)
	case coherence.FetchInvX:
		return c.handleFetchInvX(ev, line, replay)
	case coherence.Fetch:
		respondBelow(c.env, ev, line, line.Data, replay)
		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "not an invalidation")
}

func (c *MESIL1) handleInv(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch line.State {
	case coherence.S:
		respondBelow(c.env, ev, line, nil, replay)
		line.Invalidate()

		return coherence.ActionDone, nil
	case coherence.SM:
		respondBelow(c.env, ev, line, nil, replay)
		line.State = coherence.IM
		line.LLSC = false

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func (c *MESIL1) handleFetchInv(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch line.State {
	case coherence.S, coherence.E, coherence.M:
		respondBelow(c.env, ev, line, line.Data, replay)
		line.Invalidate()

		return coherence.ActionDone, nil
	case coherence.SM:
		respondBelow(c.env, ev, line, line.Data, replay)
		line.State = coherence.IM
		line.LLSC = false

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func (c *MESIL1) handleFetchInvX(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch line.State {
	case coherence.E, coherence.M:
		respondBelow(c.env, ev, line, line.Data, replay)
		line.State = coherence.S

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

// HandleEviction writes the line back. Locked and busy lines stay.
func (c *MESIL1) HandleEviction(
	line *coherence.CacheLine,
	_ string,
) (coherence.Action, error) {
	switch line.State {
	case coherence.I:
		return coherence.ActionDone, nil
	case coherence.S, coherence.E, coherence.M:
		if line.UserLock > 0 {
			return coherence.ActionStall, nil
		}

		c.count(coherence.StatEviction)
		c.sendWriteback(line, line.Data)
		line.Invalidate()

		return coherence.ActionDone, nil
	}

	return coherence.ActionStall, nil
}

// HandleResponse completes the request waiting at the head of the MSHR.
func (c *MESIL1) HandleResponse(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	switch ev.Cmd {
	case coherence.AckPut:
		return c.handleAckPut(ev, line)
	case coherence.GetSResp, coherence.GetXResp:
	default:
		return coherence.ActionIgnore, c.violation(ev, line, "not a response")
	}

	if line == nil || reqEvent == nil || !c.matchForwarded(ev) {
		return c.unmatched(ev, line)
	}

	c.clearForwarded(ev.BaseAddr)

	switch line.State {
	case coherence.IS:
		copy(line.Data, ev.Data)

		line.State = coherence.S
		if ev.Cmd == coherence.GetXResp {
			if c.msi {
				return coherence.ActionIgnore,
					c.violation(ev, line, "exclusive grant under MSI")
			}

			line.State = coherence.E
			if ev.Dirty {
				line.State = coherence.M
			}
		}

		serveRead(c.env, reqEvent, line, false)

		return coherence.ActionDone, nil
	case coherence.IM, coherence.SM:
		if ev.Cmd != coherence.GetXResp {
			return coherence.ActionIgnore, c.violation(ev, line, "")
		}

		if ev.Data != nil {
			copy(line.Data, ev.Data)
		}

		line.State = coherence.M
		serveWrite(c.env, reqEvent, line, false)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

// serveRead answers a load from the core with the bytes it asked for.
func serveRead(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) {
	if ev.HasFlag(coherence.FlagLLSC) {
		line.LLSC = true
	}

	e.respond(ev, line, coherence.GetSResp, bytesOf(e, ev, line), false,
		replay)
}

// serveWrite applies a store from the core. A GetSEx reads and locks the
// line; a store-conditional only writes if the link still holds.
func serveWrite(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) {
	if ev.Cmd == coherence.GetSEx {
		line.UserLock++
		e.respond(ev, line, coherence.GetXResp, bytesOf(e, ev, line), false,
			replay)

		return
	}

	if ev.HasFlag(coherence.FlagLLSC) {
		if !line.LLSC {
			e.count(coherence.StatSCFail)
			e.respond(ev, line, coherence.GetXResp, nil, false, replay)

			return
		}

		line.LLSC = false
		line.SetData(ev.Data, coherence.LineOffset(ev.Addr, e.cfg.LineSize))
		rsp := e.respond(ev, line, coherence.GetXResp, nil, false, replay)
		rsp.SetFlag(coherence.FlagSuccess)

		return
	}

	line.SetData(ev.Data, coherence.LineOffset(ev.Addr, e.cfg.LineSize))

	if ev.HasFlag(coherence.FlagLocked) && line.UserLock > 0 {
		line.UserLock--
	}

	e.respond(ev, line, coherence.GetXResp, nil, false, replay)
}

func bytesOf(e *env, ev *coherence.MemEvent, line *coherence.CacheLine) []byte {
	offset := coherence.LineOffset(ev.Addr, e.cfg.LineSize)

	end := offset + ev.Size
	if end > len(line.Data) {
		end = len(line.Data)
	}

	return line.Data[offset:end]
}
