package protocol

import "github.com/sarchlab/coherence/mem/coherence"

// MESIDirectory is the controller of a non-inclusive cache that keeps a
// directory entry for every line held above but data only for some of
// them. When a request needs data that only an upper sharer has, the
// sharer is fetched first.
type MESIDirectory struct {
	*env

	host DataHost
}

// localData returns the data of the line held at this level: the linked
// data slot or the payload staged in the MSHR.
func (c *MESIDirectory) localData(line *coherence.CacheLine) []byte {
	if d := c.host.DataOf(line); d != nil {
		return d.Data
	}

	if data, ok := c.mshr.TempData(line.BaseAddr); ok {
		return data
	}

	return nil
}

// stage keeps a payload for the transaction in progress.
func (c *MESIDirectory) stage(line *coherence.CacheLine, data []byte) {
	if d := c.host.DataOf(line); d != nil {
		copy(d.Data, data)
	}

	c.mshr.SetTempData(line.BaseAddr, data)
}

// retain tries to keep data for the line. A holderless line that cannot
// get a data slot leaves this level.
func (c *MESIDirectory) retain(line *coherence.CacheLine, data []byte) {
	if data == nil {
		return
	}

	if d := c.host.DataOf(line); d != nil {
		copy(d.Data, data)
		return
	}

	victim, victimData, ok := c.host.LinkData(line)
	if ok {
		if victim != nil {
			c.count(coherence.StatDataEviction)
			c.sendWriteback(victim, victimData)
			victim.Invalidate()
		}

		copy(c.host.DataOf(line).Data, data)

		return
	}

	if line.IsStable() && line.NumHolders() == 0 {
		c.sendWriteback(line, data)
		line.Invalidate()
	}
}

// drop removes the line from this level.
func (c *MESIDirectory) drop(line *coherence.CacheLine) {
	c.host.UnlinkData(line)
	c.mshr.ClearTempData(line.BaseAddr)
	line.Invalidate()
}

// fetchFromSharer asks an upper sharer for a copy of the data.
func (c *MESIDirectory) fetchFromSharer(
	line *coherence.CacheLine,
	except string,
) bool {
	for _, s := range line.Sharers() {
		if s == except || c.isTarget(line.BaseAddr, s) {
			continue
		}

		c.sendToUpper(line, s, coherence.Fetch)

		return true
	}

	return false
}

// HandleRequest serves GetS, GetX, and GetSEx from an upper cache.
func (c *MESIDirectory) HandleRequest(
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

func (c *MESIDirectory) handleGetS(
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
	default:
		return coherence.ActionIgnore, c.violation(ev, line, "")
	}

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

	if data := c.localData(line); data != nil {
		c.notify(ev, true)
		grantShared(c.env, ev, line, data, true, replay)

		return coherence.ActionDone, nil
	}

	if !line.HasSharers() {
		return coherence.ActionIgnore, c.violation(ev, line, "no copy of the data")
	}

	if !c.allocateMSHR(ev, replay) {
		return coherence.ActionIgnore, nil
	}

	c.notify(ev, true)
	c.fetchFromSharer(line, ev.Src)
	line.State = fetchState(line.State)

	return coherence.ActionStall, nil
}

func (c *MESIDirectory) handleGetX(
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
	default:
		return coherence.ActionIgnore, c.violation(ev, line, "")
	}

	if line.HasOwner() && line.Owner == src {
		return coherence.ActionIgnore,
			c.violation(ev, line, "owner asks for ownership")
	}

	data := c.localData(line)
	needData := data == nil && !line.IsSharer(src)

	if !line.HasOwner() && othersThan(line, src) == 0 {
		if needData {
			return coherence.ActionIgnore,
				c.violation(ev, line, "no copy of the data")
		}

		c.notify(ev, true)
		grantExclusive(c.env, ev, line, data, replay)

		return coherence.ActionDone, nil
	}

	if !c.allocateMSHR(ev, replay) {
		return coherence.ActionIgnore, nil
	}

	c.notify(ev, true)
	invalidateHolders(c.env, line, src, needData)
	line.State = invState(line.State)

	return coherence.ActionStall, nil
}

func (c *MESIDirectory) upgrade(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	src := ev.Src
	others := othersThan(line, src)
	data := c.localData(line)
	needData := data == nil && !line.IsSharer(src)

	if c.cfg.LastLevel && others == 0 {
		if needData {
			return coherence.ActionIgnore,
				c.violation(ev, line, "no copy of the data")
		}

		c.notify(ev, true)
		line.State = coherence.M
		grantExclusive(c.env, ev, line, data, replay)

		return coherence.ActionDone, nil
	}

	if !c.allocateMSHR(ev, replay) {
		return coherence.ActionIgnore, nil
	}

	c.notify(ev, c.cfg.LastLevel)

	if c.cfg.LastLevel {
		invalidateHolders(c.env, line, src, needData)
		line.State = coherence.SMInv

		return coherence.ActionStall, nil
	}

	n := invalidateHolders(c.env, line, src, false)

	c.count(coherence.StatUpgrade)
	c.forwardRequest(ev, line, coherence.GetX, replay)

	line.State = coherence.SM
	if n > 0 {
		line.State = coherence.SMInv
	}

	return coherence.ActionStall, nil
}

// HandleReplacement processes a writeback from an upper cache. The last
// holder to leave hands its data to this level, or the line leaves too.
func (c *MESIDirectory) HandleReplacement(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if line == nil || !line.IsHolder(ev.Src) {
		return c.unmatched(ev, line)
	}

	c.ackPut(ev, line)

	sent, owed := absorbUpperAnswer(c.env, ev, line)
	if owed {
		return c.absorbCrossingPut(ev, line, reqEvent, sent)
	}

	if ev.Cmd == coherence.PutM || ev.Dirty {
		line.State = line.State.Dirtied()
	}

	line.RemoveHolder(ev.Src)

	if !line.IsStable() {
		if ev.Data != nil {
			c.stage(line, ev.Data)
		}

		return coherence.ActionIgnore, nil
	}

	c.retain(line, ev.Data)

	if line.State != coherence.I && line.NumHolders() == 0 &&
		c.localData(line) == nil {
		if line.State.IsDirty() {
			return coherence.ActionIgnore,
				c.violation(ev, line, "dirty data lost")
		}

		c.sendWriteback(line, nil)
		c.drop(line)
	}

	return coherence.ActionDone, nil
}

func (c *MESIDirectory) absorbCrossingPut(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
	sent coherence.Command,
) (coherence.Action, error) {
	if ev.Data != nil {
		c.stage(line, ev.Data)
	}

	if sent == coherence.Fetch && ev.Data == nil {
		if c.fetchFromSharer(line, "") {
			c.mshr.DecrementAcksNeeded(line.BaseAddr)
			return coherence.ActionIgnore, nil
		}

		return coherence.ActionIgnore,
			c.violation(ev, line, "no copy of the data")
	}

	if !c.mshr.DecrementAcksNeeded(line.BaseAddr) {
		return coherence.ActionIgnore, nil
	}

	return c.complete(line, reqEvent)
}

// HandleInvalidationRequest processes Inv, FetchInv, FetchInvX, and Fetch
// from the level below.
func (c *MESIDirectory) HandleInvalidationRequest(
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

func (c *MESIDirectory) invalidateStable(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	data := c.localData(line)

	switch ev.Cmd {
	case coherence.Fetch:
		if data != nil {
			respondBelow(c.env, ev, line, data, replay)
			return coherence.ActionDone, nil
		}

		return c.fetchForBelow(ev, line, replay)
	case coherence.FetchInvX:
		if line.HasOwner() {
			c.placeInvalidation(ev, replay)
			c.sendToUpper(line, line.Owner, coherence.FetchInvX)
			line.State = invXState(line.State)

			return coherence.ActionStall, nil
		}

		if data != nil {
			respondBelow(c.env, ev, line, data, replay)
			line.State = coherence.S

			return coherence.ActionDone, nil
		}

		return c.fetchForBelow(ev, line, replay)
	case coherence.Inv, coherence.FetchInv:
		if ev.Cmd == coherence.Inv && line.State != coherence.S {
			return coherence.ActionIgnore,
				c.violation(ev, line, "Inv to an exclusive line")
		}

		if line.NumHolders() > 0 {
			needData := ev.Cmd == coherence.FetchInv && data == nil
			c.placeInvalidation(ev, replay)
			invalidateHolders(c.env, line, "", needData)
			line.State = invState(line.State)

			return coherence.ActionStall, nil
		}

		respondBelow(c.env, ev, line, data, replay)
		c.drop(line)

		return coherence.ActionDone, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "not an invalidation")
}

func (c *MESIDirectory) fetchForBelow(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	if !c.fetchFromSharer(line, "") {
		return coherence.ActionIgnore, c.violation(ev, line, "no copy of the data")
	}

	c.placeInvalidation(ev, replay)
	line.State = fetchState(line.State)

	return coherence.ActionStall, nil
}

func (c *MESIDirectory) invalidateUpgrade(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	replay bool,
) (coherence.Action, error) {
	data := c.localData(line)

	switch ev.Cmd {
	case coherence.Fetch:
		if data != nil {
			respondBelow(c.env, ev, line, data, replay)
			return coherence.ActionDone, nil
		}

		if !c.fetchFromSharer(line, "") {
			return coherence.ActionIgnore,
				c.violation(ev, line, "no copy of the data")
		}

		c.placeInvalidation(ev, replay)

		if line.State == coherence.SM {
			line.State = coherence.SMD
		}

		return coherence.ActionStall, nil
	case coherence.Inv, coherence.FetchInv:
	default:
		return coherence.ActionIgnore, c.violation(ev, line, "")
	}

	needData := ev.Cmd == coherence.FetchInv && data == nil
	invalidateHolders(c.env, line, "", needData)

	if c.mshr.AcksNeeded(line.BaseAddr) == 0 {
		respondBelow(c.env, ev, line, data, replay)
		c.host.UnlinkData(line)
		line.State = coherence.IM

		return coherence.ActionDone, nil
	}

	c.placeInvalidation(ev, replay)
	line.State = coherence.SMInv

	return coherence.ActionStall, nil
}

// HandleEviction takes the line away from the upper holders and writes it
// back once they answered.
func (c *MESIDirectory) HandleEviction(
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

	data := c.localData(line)

	if line.NumHolders() > 0 {
		invalidateHolders(c.env, line, "", data == nil)
		line.State = evictState(line.State)

		return coherence.ActionStall, nil
	}

	if data == nil && line.State.IsDirty() {
		return coherence.ActionIgnore,
			c.violation(nil, line, "dirty data lost")
	}

	c.sendWriteback(line, data)
	c.drop(line)

	return coherence.ActionDone, nil
}

// HandleResponse processes data from below and answers from above.
func (c *MESIDirectory) HandleResponse(
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

func (c *MESIDirectory) handleData(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reqEvent *coherence.MemEvent,
) (coherence.Action, error) {
	if line == nil || reqEvent == nil || !c.matchForwarded(ev) {
		return c.unmatched(ev, line)
	}

	c.clearForwarded(ev.BaseAddr)

	switch line.State {
	case coherence.IS:
		line.State = coherence.S
		if ev.Cmd == coherence.GetXResp || c.cfg.LastLevel {
			line.State = coherence.E
			if ev.Dirty {
				line.State = coherence.M
			}
		}

		grantShared(c.env, reqEvent, line, ev.Data, true, false)
		c.retain(line, ev.Data)

		return coherence.ActionDone, nil
	case coherence.IM, coherence.SM:
		data := ev.Data
		if data == nil {
			data = c.localData(line)
		}

		line.State = coherence.M
		grantExclusive(c.env, reqEvent, line, data, false)
		c.mshr.ClearTempData(line.BaseAddr)

		return coherence.ActionDone, nil
	case coherence.SMInv:
		if ev.Data != nil {
			c.stage(line, ev.Data)
		}

		line.State = coherence.MInv

		return coherence.ActionIgnore, nil
	}

	return coherence.ActionIgnore, c.violation(ev, line, "")
}

func (c *MESIDirectory) handleUpperAnswer(
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
		c.stage(line, ev.Data)
	}

	if !c.mshr.DecrementAcksNeeded(line.BaseAddr) {
		return coherence.ActionIgnore, nil
	}

	return c.complete(line, reqEvent)
}

// complete finishes the transaction that waited for the upper holders.
func (c *MESIDirectory) complete(
	line *coherence.CacheLine,
	front *coherence.MemEvent,
) (coherence.Action, error) {
	data := copyData(c.localData(line))
	c.mshr.ClearTempData(line.BaseAddr)

	switch line.State {
	case coherence.SI, coherence.EI, coherence.MI:
		if data == nil && line.State.IsDirty() {
			return coherence.ActionIgnore,
				c.violation(nil, line, "dirty data lost")
		}

		c.sendWriteback(line, data)
		c.drop(line)

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
			respondBelow(c.env, front, line, data, true)
			c.drop(line)

			return coherence.ActionDone, nil
		}

		line.State = stableOf(line.State)
		grantExclusive(c.env, front, line, data, true)

		return coherence.ActionDone, nil
	case coherence.EInvX, coherence.MInvX:
		if fromBelow {
			respondBelow(c.env, front, line, data, true)
			line.State = coherence.S
			c.retain(line, data)

			return coherence.ActionDone, nil
		}

		line.State = stableOf(line.State)
		grantShared(c.env, front, line, data, false, true)
		c.retain(line, data)

		return coherence.ActionDone, nil
	case coherence.SD, coherence.ED, coherence.MD, coherence.SMD:
		return c.completeFetch(line, front, data)
	case coherence.SMInv:
		return c.completeUpgrade(line, front, data)
	}

	return coherence.ActionIgnore, c.violation(front, line, "")
}

func (c *MESIDirectory) completeFetch(
	line *coherence.CacheLine,
	front *coherence.MemEvent,
	data []byte,
) (coherence.Action, error) {
	line.State = stableOf(line.State)

	switch front.Cmd {
	case coherence.GetS:
		grantShared(c.env, front, line, data, false, true)
	case coherence.FetchInvX:
		respondBelow(c.env, front, line, data, true)
		line.State = coherence.S
	case coherence.Fetch:
		respondBelow(c.env, front, line, data, true)
	default:
		return coherence.ActionIgnore, c.violation(front, line, "")
	}

	if line.IsStable() {
		c.retain(line, data)
	}

	return coherence.ActionDone, nil
}

func (c *MESIDirectory) completeUpgrade(
	line *coherence.CacheLine,
	front *coherence.MemEvent,
	data []byte,
) (coherence.Action, error) {
	switch {
	case front.Cmd == coherence.Fetch:
		respondBelow(c.env, front, line, data, true)
		line.State = coherence.SM

		return coherence.ActionDone, nil
	case front.Cmd.IsInvalidation():
		respondBelow(c.env, front, line, data, true)
		c.host.UnlinkData(line)
		line.State = coherence.IM

		return coherence.ActionDone, nil
	case c.cfg.LastLevel:
		line.State = coherence.M
		grantExclusive(c.env, front, line, data, true)

		return coherence.ActionDone, nil
	}

	line.State = coherence.SM

	return coherence.ActionIgnore, nil
}
