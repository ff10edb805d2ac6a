// Package cache provides the cache controller component. The component owns
// the tag array and the MSHR, admits incoming events, and hands them to the
// coherence controller that the builder selected.
package cache

import (
	"fmt"
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/internal/mshr"
	"github.com/sarchlab/coherence/mem/coherence/protocol"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/tracing"
)

// HookPosEventHandled marks an event that went through the controller. The
// hook item is the event and the detail is the coherence.Action.
var HookPosEventHandled = &sim.HookPos{Name: "Cache Event Handled"}

// HookPosEviction marks a victim line that the controller was asked to
// evict. The hook item is the victim line, still bound to its old address,
// and the detail is the coherence.Action.
var HookPosEviction = &sim.HookPos{Name: "Cache Eviction"}

// FatalHandler is called when the controller reports an error. The default
// handler runs the exit handlers and terminates the process.
type FatalHandler func(err error)

type tagArray interface {
	Lookup(addr uint64, touch bool) *coherence.CacheLine
	FindReplacementCandidate(addr uint64) *coherence.CacheLine
	Replace(addr uint64, line *coherence.CacheLine)
	Lines() []*coherence.CacheLine
}

// Comp is a coherent cache.
type Comp struct {
	*sim.TickingComponent

	conn     sim.Connection
	ctrl     protocol.Controller
	array    tagArray
	mshr     *mshr.MSHR
	lineSize int
	lower    string

	allNoncacheable bool

	stats  coherence.Stats
	logger *log.Logger
	fatal  FatalHandler

	incoming []*coherence.MemEvent

	// noncacheable maps the ID of a forwarded non-cacheable request to the
	// request that the cache received.
	noncacheable map[string]*coherence.MemEvent

	receivedReqs  map[string]*coherence.MemEvent
	initiatedReqs map[string]bool
}

// Recv queues an incoming event. It is processed in the next cycle.
func (c *Comp) Recv(msg sim.Msg) {
	ev, ok := msg.(*coherence.MemEvent)
	if !ok {
		log.Panicf("%s cannot receive message of type %T", c.Name(), msg)
	}

	c.incoming = append(c.incoming, ev)
	c.TickLater()
}

// Controller returns the coherence controller of the cache.
func (c *Comp) Controller() protocol.Controller {
	return c.ctrl
}

// LineSize returns the size of a cache line in bytes.
func (c *Comp) LineSize() int {
	return c.lineSize
}

// Tick processes the events received so far and sends the messages that
// are due.
func (c *Comp) Tick() bool {
	cycle := c.Freq.Cycle(c.CurrentTime())
	c.ctrl.UpdateTimestamp(cycle)

	madeProgress := false

	madeProgress = c.processIncoming() || madeProgress
	madeProgress = c.sendOutgoing(cycle) || madeProgress

	return madeProgress || c.ctrl.HasPendingOutgoing()
}

func (c *Comp) processIncoming() bool {
	if len(c.incoming) == 0 {
		return false
	}

	events := c.incoming
	c.incoming = nil

	for _, ev := range events {
		c.handle(ev)
	}

	return true
}

func (c *Comp) sendOutgoing(cycle uint64) bool {
	sent := false

	err := c.ctrl.SendOutgoingCommands(cycle,
		func(ev *coherence.MemEvent) error {
			if err := c.conn.Send(ev); err != nil {
				return err
			}

			c.traceSend(ev)
			sent = true

			return nil
		})
	if err != nil {
		c.fail(fmt.Errorf("%s: %w", c.Name(), err))
	}

	return sent
}

func (c *Comp) fail(err error) {
	c.logger.Printf("[%s] %.10f: %v", c.Name(), c.CurrentTime(), err)
	c.fatal(err)
}

func (c *Comp) traceReceive(ev *coherence.MemEvent) {
	if c.NumHooks() == 0 || ev.Cmd.IsResponse() || ev.Cmd == coherence.NACK {
		return
	}

	if ev.Cmd.IsRequest() {
		c.receivedReqs[ev.ID] = ev
	}

	tracing.TraceReqReceive(ev, c)

	if !ev.Cmd.IsRequest() {
		tracing.TraceReqComplete(ev, c)
	}
}

func (c *Comp) traceSend(ev *coherence.MemEvent) {
	if c.NumHooks() == 0 {
		return
	}

	if ev.Cmd.IsRequest() && ev.Dst == c.lower {
		if !c.initiatedReqs[ev.ID] {
			c.initiatedReqs[ev.ID] = true
			tracing.TraceReqInitiate(ev, c, "")
		}

		return
	}

	req, found := c.receivedReqs[ev.RespondTo]
	if !found {
		return
	}

	delete(c.receivedReqs, ev.RespondTo)
	tracing.TraceReqComplete(req, c)
}

func (c *Comp) traceFinalize(rsp *coherence.MemEvent) {
	if !c.initiatedReqs[rsp.RespondTo] {
		return
	}

	delete(c.initiatedReqs, rsp.RespondTo)
	tracing.TraceReqFinalize(rsp.RespondTo, c)
}

func (c *Comp) traceStep(ev *coherence.MemEvent, what string) {
	if _, found := c.receivedReqs[ev.ID]; !found {
		return
	}

	tracing.AddTaskStep(tracing.MsgIDAtReceiver(ev, c), c, what)
}
