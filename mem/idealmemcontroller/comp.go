// Package idealmemcontroller provides a memory that answers every request
// after a fixed number of cycles, with no limit on concurrency.
package idealmemcontroller

import (
	"log"
	"reflect"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/tracing"
)

// Counter names reported by the memory.
const (
	StatRead      = "mem_read"
	StatWrite     = "mem_write"
	StatWriteback = "mem_writeback"
)

type respondEvent struct {
	*sim.EventBase
	req *coherence.MemEvent
	rsp *coherence.MemEvent
}

func newRespondEvent(
	time sim.VTimeInSec,
	handler sim.Handler,
	req, rsp *coherence.MemEvent,
) *respondEvent {
	return &respondEvent{sim.NewEventBase(time, handler), req, rsp}
}

// Comp is an ideal memory controller. It sits below the last level cache,
// serves GetS and GetX with the content of the whole line, and absorbs
// writebacks.
type Comp struct {
	*sim.TickingComponent

	Storage  *Storage
	Latency  int
	LineSize int

	conn      sim.Connection
	width     int
	sendWBAck bool
	stats     coherence.Stats

	incoming []*coherence.MemEvent
}

// Handle defines how the Comp handles events.
func (c *Comp) Handle(e sim.Event) error {
	switch e := e.(type) {
	case *respondEvent:
		return c.handleRespondEvent(e)
	case sim.TickEvent:
		return c.TickingComponent.Handle(e)
	default:
		log.Panicf("cannot handle event of %s", reflect.TypeOf(e))
	}

	return nil
}

// Recv queues an incoming request.
func (c *Comp) Recv(msg sim.Msg) {
	ev, ok := msg.(*coherence.MemEvent)
	if !ok {
		log.Panicf("%s cannot receive message of type %T", c.Name(), msg)
	}

	c.incoming = append(c.incoming, ev)
	c.TickLater()
}

// Tick accepts up to width requests.
func (c *Comp) Tick() bool {
	madeProgress := false

	for i := 0; i < c.width && len(c.incoming) > 0; i++ {
		req := c.incoming[0]
		c.incoming = c.incoming[1:]

		tracing.TraceReqReceive(req, c)
		c.handleReq(req)

		madeProgress = true
	}

	return madeProgress
}

func (c *Comp) handleReq(req *coherence.MemEvent) {
	var rsp *coherence.MemEvent

	switch {
	case req.Cmd.IsRequest():
		rsp = c.access(req)
	case req.Cmd.IsReplacement():
		rsp = c.writeback(req)
	default:
		log.Panicf("%s cannot handle %s from %s", c.Name(), req.Cmd, req.Src)
	}

	if rsp == nil {
		tracing.TraceReqComplete(req, c)
		return
	}

	time := c.Freq.NCyclesLater(c.Latency, c.CurrentTime())
	c.Engine.Schedule(newRespondEvent(time, c, req, rsp))
}

func (c *Comp) access(req *coherence.MemEvent) *coherence.MemEvent {
	addr, size := req.BaseAddr, c.LineSize
	if req.HasFlag(coherence.FlagNoncacheable) {
		addr, size = req.Addr, req.Size
	}

	rsp := req.MakeResponse()
	rsp.Src = c.Name()

	if req.HasFlag(coherence.FlagNoncacheable) && req.Cmd.IsWrite() {
		c.mustWrite(addr, req.Data)
		c.stats.Add(StatWrite, 1)

		return rsp
	}

	data, err := c.Storage.Read(addr, size)
	if err != nil {
		log.Panic(err)
	}

	c.stats.Add(StatRead, 1)

	rsp.Addr = addr
	rsp.Size = size
	rsp.Data = data
	rsp.TrafficBytes += len(data)

	return rsp
}

func (c *Comp) writeback(req *coherence.MemEvent) *coherence.MemEvent {
	if req.Data != nil {
		c.mustWrite(req.BaseAddr, req.Data)
		c.stats.Add(StatWriteback, 1)
	}

	if !c.sendWBAck {
		return nil
	}

	rsp := req.MakeResponse()
	rsp.Src = c.Name()

	return rsp
}

func (c *Comp) mustWrite(addr uint64, data []byte) {
	if err := c.Storage.Write(addr, data); err != nil {
		log.Panic(err)
	}
}

func (c *Comp) handleRespondEvent(e *respondEvent) error {
	if err := c.conn.Send(e.rsp); err != nil {
		log.Panicf("%s: %v", c.Name(), err)
	}

	tracing.TraceReqComplete(e.req, c)

	return nil
}
