package protocol

import "github.com/sarchlab/coherence/mem/coherence"

// MESIInclusive is the controller of an inclusive cache below other
// caches. Every line held above is also held here, with its data, and the
// line records which upper caches hold it.
type MESIInclusive struct {
	*env

	msi bool
}

// HandleRequest serves GetS, GetX, and GetSEx from an upper cache.
func (c *MESIInclusive) HandleRequest(
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

func (c *MESIInclusive) handleGetS(
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
	case coherence.S:
		c.notify(ev, true)
		grantShared(c.env, ev, line, line.Data, false, replay)

		return coherence.ActionDone, nil
	case coherence.E, coherence.M:
		if line.HasOwner() {
			if line.Owner == ev.Src {
				return coherence.ActionIgnore,
					c.violation(ev, line, "owner asks for a shared copy")
			}

			if !c.allocateMSHR(ev, replay) {
				return coherence.ActionIgnore, nil
			}

			c.notify(ev, true)
			c.sendToUpper(line, line.Owner, coherence.FetchInvX)
			line.State = invXState(line.State)

			return coherence.ActionStall, nil
		}

		c.notify(ev, true)
		grantShared(c.env, ev, line, line.Data, !c.msi, replay)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func (c *MESIInclusive) handleGetX(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	src := ev.Src

	switch line.State {
	case coherence.I:
		if !c.allocateMSHR(ev, replay) {
			return coherence.ActionIgnore, nil
		}

		c.notify(ev, false)
		c.forwardRequest(ev, line, coherence.GetX, replay)
		line.State = coherence.IM

		return coherence.ActionStall, nil
	case coherence.S:
		return c.upgrade(ev, line, replay)
	case coherence.E, coherence.M:
		if line.HasOwner() && line.Owner == src {
			return coherence.ActionIgnore,
				c.violation(ev, line, "owner asks for ownership")
		}

		if line.HasOwner() || othersThan(line, src) > 0 {
			if !c.allocateMSHR(ev, replay) {
				return coherence.ActionIgnore, nil
			}

			c.notify(ev, true)
			invalidateHolders(c.env, line, src, false)
			line.State = invState(line.State)

			return coherence.ActionStall, nil
		}

		c.notify(ev, true)
		grantExclusive(c.env, ev, line, line.Data, replay)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

// upgrade serves a GetX on a shared line. The last level can grant
// ownership itself once the other sharers are gone; other levels ask the
// level below.
func (c *MESIInclusive) upgrade(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	src := ev.Src
	others := othersThan(line, src)

	if c.cfg.LastLevel && others == 0 {
		c.notify(ev, true)
		line.State = coherence.M
		grantExclusive(c.env, ev, line, line.Data, replay)

		return coherence.ActionDone, nil
	}

	if !c.allocateMSHR(ev, replay) {
		return coherence.ActionIgnore, nil
	}

	c.notify(ev, c.cfg.LastLevel)

	n := invalidateHolders(c.env, line, src, false)

	if c.cfg.LastLevel {
		line.State = coherence.SMInv
		return coherence.ActionStall, nil
	}

	c.count(coherence.StatUpgrade)
	c.forwardRequest(ev, line, coherence.GetX, replay)

	line.State = coherence.SM
	if n > 0 {
		line.State = coherence.SMInv
	}

	return coherence.ActionStall, nil
}

// HandleReplacement processes a writeback from an upper cache. A writeback
// that crosses an invalidation sent to the same cache counts as its answer.
func (c *MESIInclusive) HandleReplacement(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if line == nil || !line.IsHolder(ev.Src) {
		return c.unmatched(ev, line)
	}

	if ev.Data != nil {
		copy(line.Data, ev.Data)
	}

	c.ackPut(ev, line)

	if _, owed := absorbUpperAnswer(c.env, ev, line); owed {
		if !c.mshr.DecrementAcksNeeded(line.BaseAddr) {
			return coherence.ActionIgnore, nil
		}

		return c.completeInvalidations(line, reqEvent)
	}

	if ev.Cmd == coherence.PutM || ev.Dirty {
		line.State = line.State.Dirtied()
	}

	line.RemoveHolder(ev.Src)

	if line.IsStable() {
		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, nil
}

// HandleInvalidationRequest processes Inv, FetchInv, FetchInvX, and Fetch
// from the level below.
func (c *MESIInclusive) HandleInvalidationRequest(
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
	case coherence.S, coherence.E, coherence.M:
		return c.invalidateStable(ev, line, replay)
	case coherence.SM, coherence.SMInv:
		return c.invalidateUpgrade(ev, line, replay)
	}

	c.blockInvalidation(ev, replay)

	return coherence.ActionBlock, nil
}

func (c *MESIInclusive) invalidateStable(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch ev.Cmd {
	case coherence.Fetch:
		respondBelow(c.env, ev, line, line.Data, replay)
		return coherence.ActionDone, nil
	case coherence.FetchInvX:
		if line.HasOwner() {
			c.placeInvalidation(ev, replay)
			c.sendToUpper(line, line.Owner, coherence.FetchInvX)
			line.State = invXState(line.State)

			return coherence.ActionStall, nil
		}

		respondBelow(c.env, ev, line, line.Data, replay)
		line.State = coherence.S

		return coherence.ActionDone, nil
	case coherence.Inv, coherence.FetchInv:
		if ev.Cmd == coherence.Inv && line.State != coherence.S {
			return coherence.ActionIgnore,
				c.violation(ev, line, "Inv to an exclusive line")
		}

		if line.NumHolders() > 0 {
			c.placeInvalidation(ev, replay)
			invalidateHolders(c.env, line, "", false)
			line.State = invState(line.State)

			return coherence.ActionStall, nil
		}

		respondBelow(c.env, ev, line, line.Data, replay)
		line.Invalidate()

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "not an invalidation")
}

// invalidateUpgrade lets an invalidation overtake an upgrade. The upgrading
// cache loses its copy too and the upgrade continues as a miss.
func (c *MESIInclusive) invalidateUpgrade(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	switch ev.Cmd {
	case coherence.Fetch:
		respondBelow(c.env, ev, line, line.Data, replay)
		return coherence.ActionDone, nil
	case coherence.Inv, coherence.FetchInv:
	default:
		return coherence.ActionIgnore, c.violation(ev, line, "")
	}

	invalidateHolders(c.env, line, "", false)

	if c.mshr.AcksNeeded(line.BaseAddr) == 0 {
		respondBelow(c.env, ev, line, line.Data, replay)
		line.State = coherence.IM

		return coherence.ActionDone, nil
	}

	c.placeInvalidation(ev, replay)
	line.State = coherence.SMInv

	return coherence.ActionStall, nil
}

// HandleEviction takes the line away from the upper holders and writes it
// back once they answered.
func (c *MESIInclusive) HandleEviction(
	line *coherence.CacheLine,
	_ string,
) (coherence.Action, error) {
	switch line.State {
	case coherence.I:
		return coherence.ActionDone, nil
	case coherence.S, coherence.E, coherence.M:
	default:
		return coherence.ActionStall, nil
	}

	c.count(coherence.StatEviction)

	if line.NumHolders() > 0 {
		invalidateHolders(c.env, line, "", false)
		line.State = evictState(line.State)

		return coherence.ActionStall, nil
	}

	c.sendWriteback(line, line.Data)
	line.Invalidate()

	return coherence.ActionDone, nil
}

// HandleResponse processes data from below and answers from above.
func (c *MESIInclusive) HandleResponse(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	switch ev.Cmd {
	case coherence.AckPut:
		return c.handleAckPut(ev, line)
	case coherence.GetSResp, coherence.GetXResp:
		return c.handleData(ev, line, reqEvent)
	case coherence.AckInv, coherence.FetchResp, coherence.FetchXResp:
		return c.handleUpperAnswer(ev, line, reqEvent)
	}

	return coherence.ActionIgnore, c.violation(ev, line, "not a response")
}

func (c *MESIInclusive) handleData(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if line == nil || reqEvent == nil || !c.matchForwarded(ev) {
		return c.unmatched(ev, line)
	}

	c.clearForwarded(ev.BaseAddr)

	if ev.Data != nil {
		copy(line.Data, ev.Data)
	}

	switch line.State {
	case coherence.IS:
		exclusive := ev.Cmd == coherence.GetXResp ||
			(c.cfg.LastLevel && !c.msi)

		line.State = coherence.S
		if exclusive {
			if c.msi {
				return coherence.ActionIgnore,
					c.violation(ev, line, "exclusive grant under MSI")
			}

			line.State = coherence.E
			if ev.Dirty {
				line.State = coherence.M
			}
		}

		grantShared(c.env, reqEvent, line, line.Data, !c.msi, false)

		return coherence.ActionDone, nil
	case coherence.IM, coherence.SM:
		line.State = coherence.M
		grantExclusive(c.env, reqEvent, line, line.Data, false)

		return coherence.ActionDone, nil
	case coherence.SMInv:
		line.State = coherence.MInv
		return coherence.ActionIgnore, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func (c *MESIInclusive) handleUpperAnswer(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if line == nil {
		return c.unmatched(ev, line)
	}

	if _, owed := absorbUpperAnswer(c.env, ev, line); !owed {
		return c.unmatched(ev, line)
	}

	if ev.Data != nil {
		copy(line.Data, ev.Data)
	}

	if !c.mshr.DecrementAcksNeeded(line.BaseAddr) {
		return coherence.ActionIgnore, nil
	}

	return c.completeInvalidations(line, reqEvent)
}

// completeInvalidations finishes the transaction that waited for the upper
// holders to answer.
func (c *MESIInclusive) completeInvalidations(
	line *coherence.CacheLine,
	front *coherence.MemEvent,
) (coherence.Action, error) {
	switch line.State {
	case coherence.SI, coherence.EI, coherence.MI:
		c.sendWriteback(line, line.Data)
		line.Invalidate()

		return coherence.ActionDone, nil
	}

	if front == nil {
		return coherence.ActionIgnore,
			c.violation(nil, line, "answers arrived without a transaction")
	}

	fromBelow := front.Cmd.IsInvalidation()

	switch line.State {
	case coherence.SInv, coherence.EInv, coherence.MInv:
		if fromBelow {
			respondBelow(c.env, front, line, line.Data, true)
			line.Invalidate()

			return coherence.ActionDone, nil
		}

		line.State = stableOf(line.State)
		grantExclusive(c.env, front, line, line.Data, true)

		return coherence.ActionDone, nil
	case coherence.EInvX, coherence.MInvX:
		if fromBelow {
			respondBelow(c.env, front, line, line.Data, true)
			line.State = coherence.S

			return coherence.ActionDone, nil
		}

		line.State = stableOf(line.State)
		grantShared(c.env, front, line, line.Data, false, true)

		return coherence.ActionDone, nil
	case coherence.SMInv:
		if fromBelow {
			respondBelow(c.env, front, line, line.Data, true)
			line.State = coherence.IM

			return coherence.ActionDone, nil
		}

		if c.cfg.LastLevel {
			line.State = coherence.M
			grantExclusive(c.env, front, line, line.Data, true)

			return coherence.ActionDone, nil
		}

		line.State = coherence.SM

		return coherence.ActionIgnore, nil
	}

	return coherence.ActionIgnore, c.violation(front, line, "")
}
