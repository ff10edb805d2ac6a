package frontend

import (
	"fmt"
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/vm"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/tracing"
)

// Counter names reported by cores.
const (
	StatCoreRead      = "core_read"
	StatCoreWrite     = "core_write"
	StatCoreSplit     = "core_split"
	StatCoreNACK      = "core_nack"
	StatCoreCompleted = "core_completed"
)

const maxBackoffShift = 10

// An Allocator serves the allocate and free records of a core.
type Allocator interface {
	Allocate(vAddr, size uint64, level int) error
	Free(vAddr uint64) error
}

type retry struct {
	ev    *coherence.MemEvent
	ready sim.VTimeInSec
}

// Core issues the records of a source to its L1 cache. Accesses that cross
// a line are split in two. Each part is translated and sent as a GetS or a
// GetX. NACKed requests are sent again after an exponential backoff.
type Core struct {
	*sim.TickingComponent

	conn       sim.Connection
	l1         string
	lineSize   int
	source     Source
	translator vm.Translator
	allocator  Allocator

	width          int
	maxOutstanding int
	backoffBase    uint64
	data           byte

	stats  coherence.Stats
	logger *log.Logger
	fatal  func(err error)

	next      *Record
	exited    bool
	pending   map[string]*coherence.MemEvent
	issueTime map[string]sim.VTimeInSec
	retries   []retry

	completed    uint64
	totalLatency sim.VTimeInSec
}

// Recv takes a response or a NACK from the L1.
func (c *Core) Recv(msg sim.Msg) {
	ev, ok := msg.(*coherence.MemEvent)
	if !ok {
		log.Panicf("%s cannot receive message of type %T", c.Name(), msg)
	}

	if ev.Cmd == coherence.NACK {
		c.handleNACK(ev)
	} else {
		c.handleResponse(ev)
	}

	c.TickLater()
}

func (c *Core) handleNACK(nack *coherence.MemEvent) {
	orig := nack.NACKed
	if orig == nil || c.pending[orig.ID] == nil {
		c.fail(fmt.Errorf("%s: unexpected NACK %s", c.Name(), nack.ID))
		return
	}

	c.stats.Add(StatCoreNACK, 1)
	tracing.AddTaskStep(orig.ID+"_req_out", c, "nack")

	orig.RetryCount++

	shift := orig.RetryCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}

	delay := c.backoffBase << uint(shift-1)
	c.retries = append(c.retries, retry{
		ev:    orig,
		ready: c.Freq.NCyclesLater(int(delay), c.CurrentTime()),
	})
}

func (c *Core) handleResponse(rsp *coherence.MemEvent) {
	req, found := c.pending[rsp.RespondTo]
	if !found {
		c.fail(fmt.Errorf("%s: response %s %s matches no request",
			c.Name(), rsp.Cmd, rsp.RespondTo))

		return
	}

	delete(c.pending, rsp.RespondTo)

	c.completed++
	c.totalLatency += c.CurrentTime() - c.issueTime[req.ID]
	delete(c.issueTime, req.ID)

	c.stats.Add(StatCoreCompleted, 1)
	tracing.TraceReqFinalize(req.ID, c)
}

// Tick resends the due retries and issues new records.
func (c *Core) Tick() bool {
	madeProgress := false

	madeProgress = c.resend() || madeProgress
	madeProgress = c.issue() || madeProgress

	return madeProgress || len(c.retries) > 0
}

func (c *Core) resend() bool {
	now := c.CurrentTime()
	sent := false
	remaining := c.retries[:0]

	for _, r := range c.retries {
		if r.ready > now {
			remaining = append(remaining, r)
			continue
		}

		c.send(r.ev)
		sent = true
	}

	c.retries = remaining

	return sent
}

func (c *Core) issue() bool {
	madeProgress := false

	for i := 0; i < c.width && !c.exited; i++ {
		if c.next == nil {
			r, ok := c.source.Next()
			if !ok {
				c.exited = true
				return madeProgress
			}

			c.next = &r
		}

		if !c.execute(*c.next) {
			return madeProgress
		}

		c.next = nil
		madeProgress = true
	}

	return madeProgress
}

// execute runs one record. It returns false if the record has to wait.
func (c *Core) execute(r Record) bool {
	var err error

	switch r.Op {
	case OpNoop:
	case OpExit:
		c.exited = true
	case OpAllocate:
		err = c.mustHaveAllocator(r).Allocate(r.VAddr, r.Size, r.Level)
	case OpFree:
		err = c.mustHaveAllocator(r).Free(r.VAddr)
	case OpRead, OpWrite:
		return c.access(r)
	default:
		err = fmt.Errorf("unknown operation %s", r.Op)
	}

	if err != nil {
		c.fail(fmt.Errorf("%s: %s: %w", c.Name(), r, err))
	}

	return true
}

func (c *Core) mustHaveAllocator(r Record) Allocator {
	if c.allocator == nil {
		log.Panicf("%s: %s needs an allocator", c.Name(), r)
	}

	return c.allocator
}

func (c *Core) access(r Record) bool {
	parts := c.split(r)
	if len(c.pending)+len(parts) > c.maxOutstanding {
		return false
	}

	if len(parts) > 1 {
		c.stats.Add(StatCoreSplit, 1)
	}

	for _, p := range parts {
		pAddr, err := c.translator.Translate(p.VAddr)
		if err != nil {
			c.fail(fmt.Errorf("%s: translate 0x%x: %w", c.Name(), p.VAddr, err))
			return true
		}

		ev := c.makeRequest(p, pAddr)
		c.pending[ev.ID] = ev
		c.issueTime[ev.ID] = c.CurrentTime()

		tracing.TraceReqInitiate(ev, c, "")
		c.send(ev)
	}

	return true
}

// split cuts an access at line boundaries.
func (c *Core) split(r Record) []Record {
	lineSize := uint64(c.lineSize)

	var parts []Record

	addr := r.VAddr
	end := r.VAddr + r.Size

	for addr < end {
		lineEnd := coherence.AlignAddr(addr, c.lineSize) + lineSize

		size := end - addr
		if addr+size > lineEnd {
			size = lineEnd - addr
		}

		p := r
		p.VAddr = addr
		p.Size = size
		parts = append(parts, p)

		addr += size
	}

	return parts
}

func (c *Core) makeRequest(r Record, pAddr uint64) *coherence.MemEvent {
	b := coherence.MemEventBuilder{}.
		WithSrc(c.Name()).
		WithDst(c.l1).
		WithBaseAddr(coherence.AlignAddr(pAddr, c.lineSize)).
		WithAddr(pAddr).
		WithSize(int(r.Size)).
		WithRequester(c.Name())

	if r.Op == OpWrite {
		data := make([]byte, r.Size)
		for i := range data {
			data[i] = c.data
		}

		b = b.WithCmd(coherence.GetX).WithData(data)
		c.stats.Add(StatCoreWrite, 1)
	} else {
		b = b.WithCmd(coherence.GetS)
		c.stats.Add(StatCoreRead, 1)
	}

	ev := b.Build()
	ev.VAddr = r.VAddr
	ev.InstPtr = r.InstPtr

	return ev
}

func (c *Core) send(ev *coherence.MemEvent) {
	if err := c.conn.Send(ev); err != nil {
		c.fail(fmt.Errorf("%s: %w", c.Name(), err))
	}
}

func (c *Core) fail(err error) {
	c.logger.Printf("[%s] %.10f: %v", c.Name(), c.CurrentTime(), err)
	c.fatal(err)
}

// Done tells if the core has run all its records and got every answer.
func (c *Core) Done() bool {
	return c.exited && len(c.pending) == 0 && len(c.retries) == 0
}

// NumOutstanding returns the number of requests waiting for an answer.
func (c *Core) NumOutstanding() int {
	return len(c.pending)
}

// NumCompleted returns the number of answered requests.
func (c *Core) NumCompleted() uint64 {
	return c.completed
}

// AverageLatency returns the average time between sending a request for the
// first time and receiving its answer.
func (c *Core) AverageLatency() sim.VTimeInSec {
	if c.completed == 0 {
		return 0
	}

	return c.totalLatency / sim.VTimeInSec(c.completed)
}

// Start schedules the first tick of the core.
func (c *Core) Start() {
	c.TickLater()
}
