package protocol

import "github.com/sarchlab/coherence/mem/coherence"

// grantShared answers a GetS from an upper cache. A line this level holds
// exclusively, with no other holder, is handed out exclusively if allowed.
func grantShared(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	data []byte,
	allowExclusive bool,
	replay bool,
) {
	if allowExclusive && line.State.IsExclusive() && line.NumHolders() == 0 {
		line.Owner = ev.Src
		e.respondWholeLine(ev, line, coherence.GetXResp, data, false, replay)

		return
	}

	line.AddSharer(ev.Src)
	e.respondWholeLine(ev, line, coherence.GetSResp, data, false, replay)
}

// grantExclusive makes the sender of ev the owner of the line.
func grantExclusive(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	data []byte,
	replay bool,
) {
	line.RemoveSharer(ev.Src)
	line.Owner = ev.Src
	e.respondWholeLine(ev, line, coherence.GetXResp, data, false, replay)
}

// invalidateHolders takes the line away from every upper holder except
// `except`. The owner receives a FetchInv. If fetchOne is set and there is
// no owner, the first sharer receives a FetchInv so that its data comes
// back. Holders that already owe an answer are skipped. It returns the
// number of messages sent.
func invalidateHolders(
	e *env,
	line *coherence.CacheLine,
	except string,
	fetchOne bool,
) int {
	n := 0
	fetched := false

	if line.HasOwner() && line.Owner != except &&
		!e.isTarget(line.BaseAddr, line.Owner) {
		e.sendToUpper(line, line.Owner, coherence.FetchInv)
		n++
		fetched = true
	}

	for _, s := range line.Sharers() {
		if s == except || e.isTarget(line.BaseAddr, s) {
			continue
		}

		cmd := coherence.Inv
		if fetchOne && !fetched {
			cmd = coherence.FetchInv
			fetched = true
		}

		e.sendToUpper(line, s, cmd)
		n++
	}

	return n
}

// othersThan returns the sharers of the line other than s.
func othersThan(line *coherence.CacheLine, s string) int {
	n := line.NumSharers()
	if line.IsSharer(s) {
		n--
	}

	return n
}

// absorbUpperAnswer applies the holder change carried by an answer from an
// upper cache: an ack, a fetch response, or a writeback that crossed an
// invalidation. It returns the command the holder had received, or false
// if no answer was owed.
func absorbUpperAnswer(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
) (coherence.Command, bool) {
	src := ev.Src

	sent, owed := e.targetCommand(line.BaseAddr, src)
	if !owed {
		return coherence.CmdNone, false
	}

	e.removeTarget(line.BaseAddr, src)

	if ev.Data != nil && (ev.Dirty || ev.Cmd == coherence.PutM) {
		line.State = line.State.Dirtied()
	}

	switch {
	case ev.Cmd == coherence.FetchXResp:
		if line.Owner == src {
			line.Owner = ""
		}

		line.AddSharer(src)
	case ev.Cmd == coherence.FetchResp && sent == coherence.Fetch:
	default:
		line.RemoveHolder(src)
	}

	return sent, true
}

// respondBelow answers an invalidation from the level below with the ack
// it asks for.
func respondBelow(
	e *env,
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	data []byte,
	replay bool,
) {
	dirty := line.State.IsDirty()

	switch ev.Cmd {
	case coherence.Inv:
		e.respondWholeLine(ev, line, coherence.AckInv, nil, false, replay)
	case coherence.FetchInvX:
		e.respondWholeLine(ev, line, coherence.FetchXResp, data, dirty, replay)
	default:
		e.respondWholeLine(ev, line, coherence.FetchResp, data, dirty, replay)
	}
}

// stableOf returns the stable state an invalidating state falls back to.
func stableOf(s coherence.State) coherence.State {
	switch s {
	case coherence.SInv, coherence.SI, coherence.SD:
		return coherence.S
	case coherence.EInv, coherence.EInvX, coherence.EI, coherence.ED:
		return coherence.E
	case coherence.MInv, coherence.MInvX, coherence.MI, coherence.MD:
		return coherence.M
	case coherence.SMD:
		return coherence.SM
	}

	return s
}

// invState returns the state that waits for upper holders to give the
// line up.
func invState(s coherence.State) coherence.State {
	switch s {
	case coherence.S:
		return coherence.SInv
	case coherence.E:
		return coherence.EInv
	case coherence.M:
		return coherence.MInv
	}

	return s
}

// invXState returns the state that waits for the owner to downgrade.
func invXState(s coherence.State) coherence.State {
	switch s {
	case coherence.E:
		return coherence.EInvX
	case coherence.M:
		return coherence.MInvX
	}

	return s
}

// evictState returns the state that waits for upper holders before the
// line leaves this level.
func evictState(s coherence.State) coherence.State {
	switch s {
	case coherence.S:
		return coherence.SI
	case coherence.E:
		return coherence.EI
	case coherence.M:
		return coherence.MI
	}

	return s
}

// fetchState returns the state that waits for an upper sharer to return a
// copy of the data.
func fetchState(s coherence.State) coherence.State {
	switch s {
	case coherence.S:
		return coherence.SD
	case coherence.E:
		return coherence.ED
	case coherence.M:
		return coherence.MD
	case coherence.SM:
		return coherence.SMD
	}

	return s
}
