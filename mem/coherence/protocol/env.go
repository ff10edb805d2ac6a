package protocol

import (
	"fmt"
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/internal/mshr"
	"github.com/sarchlab/coherence/sim"
)

const maxBackoffShift = 10

// env holds what every controller shares: the configuration, the MSHR, the
// outgoing queue, and the bookkeeping of the messages in flight.
type env struct {
	cfg      Config
	mshr     *mshr.MSHR
	stats    coherence.Stats
	listener coherence.AccessListener
	logger   *log.Logger
	clock    sim.TimeTeller

	now uint64
	out outbox

	// forwarded maps a line address to the ID of the request sent below.
	forwarded map[uint64]string

	// targets maps a line address to the upper levels that owe an answer,
	// with the command each of them received.
	targets map[uint64]map[string]coherence.Command

	// departures maps a line address to the cycle its last message leaves.
	// It outlives the line slot, which is reset when reused.
	departures map[uint64]uint64
}

func newEnv(cfg Config, deps Deps) *env {
	e := &env{
		cfg:       cfg,
		mshr:      deps.MSHR,
		stats:     deps.Stats,
		listener:  deps.Listener,
		logger:    deps.Logger,
		clock:     deps.Clock,
		forwarded: make(map[uint64]string),
		targets:   make(map[uint64]map[string]coherence.Command),

		departures: make(map[uint64]uint64),
	}

	if e.stats == nil {
		e.stats = coherence.NopStats{}
	}

	if e.logger == nil {
		e.logger = log.Default()
	}

	return e
}

func (e *env) count(name string) {
	e.stats.Add(name, 1)
}

func (e *env) currentTime() sim.VTimeInSec {
	if e.clock == nil {
		return 0
	}

	return e.clock.CurrentTime()
}

func (e *env) debugf(format string, args ...interface{}) {
	if !e.cfg.Debug {
		return
	}

	e.logger.Printf("%s: "+format, append([]interface{}{e.cfg.Name}, args...)...)
}

// violation reports an event without a defined transition.
func (e *env) violation(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	reason string,
) error {
	err := coherence.NewProtocolError(e.cfg.Name, ev, line, reason)
	err.Time = e.currentTime()

	return err
}

// unmatched handles a response that answers nothing outstanding.
func (e *env) unmatched(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
) (coherence.Action, error) {
	e.count(coherence.StatUnmatched)

	state := coherence.I
	if line != nil {
		state = line.State
	}

	if e.cfg.FatalOnUnmatched {
		return coherence.ActionIgnore, fmt.Errorf(
			"%s: %w: %s for 0x%x from %s in state %s",
			e.cfg.Name, coherence.ErrUnmatched, ev.Cmd, ev.BaseAddr, ev.Src,
			state)
	}

	e.debugf("dropping unmatched %s for 0x%x from %s in state %s",
		ev.Cmd, ev.BaseAddr, ev.Src, state)

	return coherence.ActionIgnore, nil
}

func (e *env) notify(ev *coherence.MemEvent, hit bool) {
	switch {
	case ev.Cmd == coherence.GetS && hit:
		e.count(coherence.StatGetSHit)
	case ev.Cmd == coherence.GetS:
		e.count(coherence.StatGetSMiss)
	case hit:
		e.count(coherence.StatGetXHit)
	default:
		e.count(coherence.StatGetXMiss)
	}

	if e.listener == nil {
		return
	}

	e.listener.NotifyAccess(coherence.AccessRecord{
		Time:    e.currentTime(),
		Cache:   e.cfg.Name,
		Addr:    ev.Addr,
		VAddr:   ev.VAddr,
		InstPtr: ev.InstPtr,
		Size:    ev.Size,
		Write:   ev.Cmd.IsWrite(),
		Hit:     hit,
	})
}

// deliveryTime returns the cycle a message about line leaves the cache and
// moves the line timestamp there. Messages about the same address never
// leave before earlier ones, even if the slot was reused in between.
func (e *env) deliveryTime(
	line *coherence.CacheLine,
	latency uint64,
	replay bool,
) uint64 {
	if replay {
		latency = e.cfg.MSHRLatency
	}

	base := e.now
	if line != nil && line.Timestamp > base {
		base = line.Timestamp
	}

	at := base + latency
	if line == nil {
		return at
	}

	at = e.departAfter(line.BaseAddr, at)
	line.Timestamp = at

	return at
}

// departAfter returns the first cycle from at on that keeps the messages
// about addr in order, and records it.
func (e *env) departAfter(addr, at uint64) uint64 {
	if last, found := e.departures[addr]; found && last > at {
		at = last
	}

	e.departures[addr] = at

	return at
}

func (e *env) latencyFor(data []byte) uint64 {
	if data != nil {
		return e.cfg.AccessLatency
	}

	return e.cfg.TagLatency
}

func (e *env) send(at uint64, ev *coherence.MemEvent) {
	e.out.push(at, ev)
}

func copyData(data []byte) []byte {
	if data == nil {
		return nil
	}

	return append([]byte(nil), data...)
}

func withPayload(ev *coherence.MemEvent, data []byte, dirty bool) {
	ev.Data = copyData(data)
	ev.Dirty = dirty

	if ev.Data != nil {
		ev.TrafficBytes += len(ev.Data)
	}
}

// allocateMSHR places a new request into the MSHR. A request that cannot
// get a slot is NACKed, or dropped if it is a prefetch, and the caller must
// not touch the line.
func (e *env) allocateMSHR(ev *coherence.MemEvent, replay bool) bool {
	if replay {
		return true
	}

	if e.mshr.IsAlmostFull() {
		e.Reject(ev)
		return false
	}

	if _, err := e.mshr.Insert(ev.BaseAddr, ev); err != nil {
		e.Reject(ev)
		return false
	}

	return true
}

// Reject NACKs ev, or drops it if it is a prefetch.
func (e *env) Reject(ev *coherence.MemEvent) {
	if ev.Prefetch {
		e.count(coherence.StatPrefetchDrop)
		return
	}

	e.count(coherence.StatNACKSent)
	e.send(e.now+e.cfg.TagLatency, ev.MakeNACK())
}

// placeInvalidation puts an invalidation from below at the head of the
// queue of its line.
func (e *env) placeInvalidation(ev *coherence.MemEvent, replay bool) {
	if replay {
		return
	}

	e.mshr.InsertInv(ev.BaseAddr, ev, false)
}

// blockInvalidation parks an invalidation behind the transaction in
// progress on its line.
func (e *env) blockInvalidation(ev *coherence.MemEvent, replay bool) {
	if replay {
		return
	}

	e.mshr.InsertInv(ev.BaseAddr, ev, true)
}

// forwardRequest sends a request for the whole line below on behalf of ev.
func (e *env) forwardRequest(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	cmd coherence.Command,
	replay bool,
) {
	b := coherence.MemEventBuilder{}.
		WithSrc(e.cfg.Name).
		WithDst(e.cfg.Lower).
		WithCmd(cmd).
		WithBaseAddr(line.BaseAddr).
		WithAddr(line.BaseAddr).
		WithSize(e.cfg.LineSize).
		WithFlags(ev.Flags &^ (coherence.FlagLLSC | coherence.FlagLocked)).
		WithRequester(ev.Requester)

	if ev.Prefetch {
		b = b.AsPrefetch()
	}

	fwd := b.Build()
	fwd.VAddr = ev.VAddr
	fwd.InstPtr = ev.InstPtr

	e.forwarded[line.BaseAddr] = fwd.ID
	e.send(e.deliveryTime(line, e.cfg.TagLatency, replay), fwd)
}

// matchForwarded tells if rsp answers the request sent below for its line.
func (e *env) matchForwarded(rsp *coherence.MemEvent) bool {
	id, found := e.forwarded[rsp.BaseAddr]
	return found && id == rsp.RespondTo
}

func (e *env) clearForwarded(addr uint64) {
	delete(e.forwarded, addr)
}

// respond answers ev, either a request from above or an invalidation from
// below, with a message carrying the given payload.
func (e *env) respond(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	cmd coherence.Command,
	data []byte,
	dirty bool,
	replay bool,
) *coherence.MemEvent {
	rsp := ev.MakeResponseWithCmd(cmd)
	rsp.Src = e.cfg.Name
	withPayload(rsp, data, dirty)

	e.send(e.deliveryTime(line, e.latencyFor(data), replay), rsp)

	return rsp
}

// respondWholeLine answers ev with a message about the whole line.
func (e *env) respondWholeLine(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
	cmd coherence.Command,
	data []byte,
	dirty bool,
	replay bool,
) {
	rsp := e.respond(ev, line, cmd, data, dirty, replay)
	rsp.Addr = line.BaseAddr
	rsp.Size = e.cfg.LineSize
}

// sendToUpper sends an invalidation-class command to an upper holder and
// records the answer it owes.
func (e *env) sendToUpper(
	line *coherence.CacheLine,
	target string,
	cmd coherence.Command,
) {
	ev := coherence.MemEventBuilder{}.
		WithSrc(e.cfg.Name).
		WithDst(target).
		WithCmd(cmd).
		WithBaseAddr(line.BaseAddr).
		WithAddr(line.BaseAddr).
		WithSize(e.cfg.LineSize).
		WithRequester(e.cfg.Name).
		Build()

	t, found := e.targets[line.BaseAddr]
	if !found {
		t = make(map[string]coherence.Command)
		e.targets[line.BaseAddr] = t
	}

	t[target] = cmd

	e.mshr.IncrementAcksNeeded(line.BaseAddr)
	e.count(coherence.StatInvSent)
	e.send(e.deliveryTime(line, e.cfg.TagLatency, false), ev)
}

// targetCommand returns the command sent to target for addr, if the answer
// is still owed.
func (e *env) targetCommand(addr uint64, target string) (
	coherence.Command, bool,
) {
	cmd, found := e.targets[addr][target]
	return cmd, found
}

func (e *env) removeTarget(addr uint64, target string) {
	t := e.targets[addr]
	delete(t, target)

	if len(t) == 0 {
		delete(e.targets, addr)
	}
}

func (e *env) isTarget(addr uint64, target string) bool {
	_, found := e.targets[addr][target]
	return found
}

// sendWriteback tells the level below that the line leaves this cache.
// Dirty data is always written back. Clean lines carry data only if clean
// writebacks are enabled, and the last level drops them silently.
func (e *env) sendWriteback(line *coherence.CacheLine, data []byte) {
	dirty := line.State.IsDirty()
	if !dirty && e.cfg.LastLevel && !e.cfg.WritebackCleanBlocks {
		return
	}

	cmd := coherence.PutS
	switch {
	case dirty:
		cmd = coherence.PutM
	case line.State.IsExclusive():
		cmd = coherence.PutE
	}

	if !dirty && !e.cfg.WritebackCleanBlocks {
		data = nil
	}

	ev := coherence.MemEventBuilder{}.
		WithSrc(e.cfg.Name).
		WithDst(e.cfg.Lower).
		WithCmd(cmd).
		WithBaseAddr(line.BaseAddr).
		WithAddr(line.BaseAddr).
		WithSize(e.cfg.LineSize).
		WithRequester(e.cfg.Name).
		Build()
	withPayload(ev, data, dirty)

	if e.cfg.ExpectWritebackAck {
		e.mshr.InsertWriteback(line.BaseAddr)
	}

	e.count(coherence.StatWriteback)
	e.send(e.deliveryTime(line, e.latencyFor(ev.Data), false), ev)
}

// ackPut acknowledges a writeback from above if configured to.
func (e *env) ackPut(ev *coherence.MemEvent, line *coherence.CacheLine) {
	if !e.cfg.SendWritebackAck {
		return
	}

	rsp := ev.MakeResponseWithCmd(coherence.AckPut)
	rsp.Src = e.cfg.Name
	e.send(e.deliveryTime(line, e.cfg.TagLatency, false), rsp)
}

// handleAckPut retires the writeback marker that an AckPut answers.
func (e *env) handleAckPut(
	ev *coherence.MemEvent,
	line *coherence.CacheLine,
) (coherence.Action, error) {
	if !e.mshr.RemoveWriteback(ev.BaseAddr) {
		return e.unmatched(ev, line)
	}

	e.count(coherence.StatWritebackAckd)

	return coherence.ActionDone, nil
}

// IsRetryNeeded tells if orig is still the request outstanding below.
func (e *env) IsRetryNeeded(
	orig *coherence.MemEvent,
	line *coherence.CacheLine,
) bool {
	if line == nil || e.forwarded[orig.BaseAddr] != orig.ID {
		return false
	}

	switch orig.Cmd {
	case coherence.GetS:
		return line.State == coherence.IS
	case coherence.GetX, coherence.GetSEx:
		switch line.State {
		case coherence.IM, coherence.SM, coherence.SMInv:
			return true
		}
	}

	return false
}

// Resend sends orig again after an exponential backoff.
func (e *env) Resend(orig *coherence.MemEvent) {
	orig.RetryCount++

	shift := orig.RetryCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	base := e.cfg.BackoffBase
	if base == 0 {
		base = 1
	}

	e.count(coherence.StatRetry)
	e.send(e.departAfter(orig.BaseAddr, e.now+base<<uint(shift-1)), orig)
}

// ForwardNoncacheable sends a copy of ev to dst.
func (e *env) ForwardNoncacheable(
	ev *coherence.MemEvent,
	dst string,
) *coherence.MemEvent {
	fwd := ev.Clone()
	fwd.Src = e.cfg.Name
	fwd.Dst = dst

	e.count(coherence.StatNoncacheable)
	e.send(e.now+e.cfg.TagLatency, fwd)

	return fwd
}

// UpdateTimestamp sets the current cycle.
func (e *env) UpdateTimestamp(cycle uint64) {
	e.now = cycle
}

// SendOutgoingCommands sends the messages due by cycle.
func (e *env) SendOutgoingCommands(
	cycle uint64,
	send func(ev *coherence.MemEvent) error,
) error {
	if err := e.out.drain(cycle, send); err != nil {
		return err
	}

	// Everything queued has left, so no later message can overtake one.
	if e.out.len() == 0 {
		clear(e.departures)
	}

	return nil
}

// HasPendingOutgoing tells if messages wait to be sent.
func (e *env) HasPendingOutgoing() bool {
	return e.out.len() > 0
}
