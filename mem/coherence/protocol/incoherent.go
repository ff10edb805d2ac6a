package protocol

import "github.com/sarchlab/coherence/mem/coherence"

// Incoherent is the controller of a cache below other caches when no
// coherence protocol runs. It tracks no holders; upper caches write dirty
// data back with PutM.
type Incoherent struct {
	*env
}

// HandleRequest serves GetS, GetX, and GetSEx from an upper cache.
func (c *Incoherent) HandleRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	if !ev.Cmd.IsRequest() {
		return coherence.ActionIgnore, c.violation(ev, line, "not a request")
	}

	switch line.State {
	case coherence.I:
		return missIncoherent(c.env, ev, line, replay), nil
	case coherence.E, coherence.M:
		c.notify(ev, true)
		c.respondWholeLine(ev, line, ev.Cmd.ResponseCommand(), line.Data,
			false, replay)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func missIncoherent(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) coherence.Action {
	if !e.allocateMSHR(ev, replay) {
		return coherence.ActionIgnore
	}

	e.notify(ev, false)

	if ev.Cmd == coherence.GetS {
		e.forwardRequest(ev, line, coherence.GetS, replay)
		line.State = coherence.IS
	} else {
		e.forwardRequest(ev, line, coherence.GetX, replay)
		line.State = coherence.IM
	}

	return coherence.ActionStall
}

// HandleReplacement stores data written back from above.
func (c *Incoherent) HandleReplacement(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	_ *coherence.MemEvent,
) (coherence.Action, error) {
	c.ackPut(ev, line)

	if line == nil || line.State == coherence.I {
		return coherence.ActionDone, nil
	}

	if ev.Data != nil && (ev.Cmd == coherence.PutM || ev.Dirty) {
		copy(line.Data, ev.Data)

		if line.IsStable() {
			line.State = coherence.M
		}
	}

	if line.IsStable() {
		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, nil
}

// HandleInvalidationRequest answers invalidations from below, which only
// arrive when a coherent level sits below.
func (c *Incoherent) HandleInvalidationRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	return invalidateIncoherent(c.env, ev, line, replay)
}

func invalidateIncoherent(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	if line == nil || line.InTransition() || line.State == coherence.I {
		return coherence.ActionIgnore, nil
	}

	respondBelow(e, ev, line, line.Data, replay)

	switch ev.Cmd {
	case coherence.Fetch:
	case coherence.FetchInvX:
		line.State = coherence.E
	default:
		line.Invalidate()
	}

	return coherence.ActionDone, nil
}

// HandleEviction writes dirty lines back. Clean lines leave silently
// unless clean writebacks are enabled.
func (c *Incoherent) HandleEviction(
	line *coherence.CacheLine,
	_ string,
) (coherence.Action, error) {
	return evictIncoherent(c.env, line), nil
}

func evictIncoherent(e *env, line *coherence.CacheLine) coherence.Action {
	switch line.State {
	case coherence.I:
		return coherence.ActionDone
	case coherence.E, coherence.M:
	default:
		return coherence.ActionStall
	}

	if line.UserLock > 0 {
		return coherence.ActionStall
	}

	e.count(coherence.StatEviction)

	if line.State == coherence.M || e.cfg.WritebackCleanBlocks {
		e.sendWriteback(line, line.Data)
	}

	line.Invalidate()

	return coherence.ActionDone
}

// HandleResponse fills the line and serves the waiting request.
func (c *Incoherent) HandleResponse(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if ev.Cmd == coherence.AckPut {
		return c.handleAckPut(ev, line)
	}

	if !fillIncoherent(c.env, ev, line, reqEvent) {
		return c.unmatched(ev, line)
	}

	c.respondWholeLine(reqEvent, line, reqEvent.Cmd.ResponseCommand(),
		line.Data, false, false)

	return coherence.ActionDone, nil
}

// fillIncoherent installs the data of a response from below.
func fillIncoherent(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) bool {
	if ev.Cmd != coherence.GetSResp && ev.Cmd != coherence.GetXResp {
		return false
	}

	if line == nil || reqEvent == nil || !e.matchForwarded(ev) {
		return false
	}

	if line.State != coherence.IS && line.State != coherence.IM {
		return false
	}

	e.clearForwarded(ev.BaseAddr)
	copy(line.Data, ev.Data)

	line.State = coherence.E
	if ev.Dirty {
		line.State = coherence.M
	}

	return true
}

// IncoherentL1 is the controller of an L1 cache when no coherence protocol
// runs.
type IncoherentL1 struct {
	*env
}

// HandleRequest serves loads and stores from the core.
func (c *IncoherentL1) HandleRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	if !ev.Cmd.IsRequest() {
		return coherence.ActionIgnore, c.violation(ev, line, "not a request")
	}

	switch line.State {
	case coherence.I:
		return missIncoherent(c.env, ev, line, replay), nil
	case coherence.E, coherence.M:
		c.notify(ev, true)
		serveL1(c.env, ev, line, replay)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func serveL1(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) {
	if ev.Cmd == coherence.GetS {
		serveRead(e, ev, line, replay)
		return
	}

	line.State = coherence.M
	serveWrite(e, ev, line, replay)
}

// HandleReplacement rejects writebacks; nothing sits above an L1.
func (c *IncoherentL1) HandleReplacement(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	_ *coherence.MemEvent,
) (coherence.Action, error) {
	return coherence.ActionIgnore, c.violation(ev, line, "writeback to an L1")
}

// HandleInvalidationRequest answers invalidations from below.
func (c *IncoherentL1) HandleInvalidationRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	return invalidateIncoherent(c.env, ev, line, replay)
}

// HandleEviction writes dirty lines back.
func (c *IncoherentL1) HandleEviction(
	line *coherence.CacheLine,
	_ string,
) (coherence.Action, error) {
	return evictIncoherent(c.env, line), nil
}

// HandleResponse fills the line and serves the waiting request.
func (c *IncoherentL1) HandleResponse(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if ev.Cmd == coherence.AckPut {
		return c.handleAckPut(ev, line)
	}

	if !fillIncoherent(c.env, ev, line, reqEvent) {
		return c.unmatched(ev, line)
	}

	serveL1(c.env, reqEvent, line, false)

	return coherence.ActionDone, nil
}
