package coherence

import (
	"github.com/sarchlab/coherence/sim"
)

// Flag marks optional request semantics.
type Flag uint32

// Flags carried by MemEvents.
const (
	// FlagNoncacheable bypasses coherence.
	FlagNoncacheable Flag = 1 << iota

	// FlagLocked on a GetX releases the user lock taken by a GetSEx.
	FlagLocked

	// FlagLLSC turns a GetS into a load-linked and a GetX into a
	// store-conditional.
	FlagLLSC

	// FlagSuccess on a GetXResp reports that a store-conditional wrote.
	FlagSuccess
)

var (
	controlMsgByteOverhead = 8
	dataMsgByteOverhead    = 8
)

// MemEvent is the message exchanged between cores, caches, and memory.
type MemEvent struct {
	sim.MsgMeta

	Cmd      Command
	BaseAddr uint64
	Addr     uint64
	Size     int
	Data     []byte
	Dirty    bool
	Flags    Flag
	Prefetch bool

	// Requester is the core that started the access. Src is only the last
	// hop.
	Requester string
	VAddr     uint64
	InstPtr   uint64

	// RespondTo is the ID of the event this event answers.
	RespondTo string

	// NACKed is the rejected event that a NACK returns to its sender.
	NACKed     *MemEvent
	RetryCount int
}

// Meta returns the message meta.
func (e *MemEvent) Meta() *sim.MsgMeta {
	return &e.MsgMeta
}

// HasFlag returns true if f is set.
func (e *MemEvent) HasFlag(f Flag) bool {
	return e.Flags&f != 0
}

// SetFlag sets f.
func (e *MemEvent) SetFlag(f Flag) {
	e.Flags |= f
}

// ClearFlag clears f.
func (e *MemEvent) ClearFlag(f Flag) {
	e.Flags &^= f
}

// MakeResponse creates the default answer to e, travelling back to e's
// sender.
func (e *MemEvent) MakeResponse() *MemEvent {
	return e.MakeResponseWithCmd(e.Cmd.ResponseCommand())
}

// MakeResponseWithCmd creates an answer to e with the given command.
func (e *MemEvent) MakeResponseWithCmd(cmd Command) *MemEvent {
	rsp := MemEventBuilder{}.
		WithSrc(e.Dst).
		WithDst(e.Src).
		WithCmd(cmd).
		WithBaseAddr(e.BaseAddr).
		WithAddr(e.Addr).
		WithSize(e.Size).
		WithRequester(e.Requester).
		Build()
	rsp.RespondTo = e.ID
	rsp.VAddr = e.VAddr
	rsp.InstPtr = e.InstPtr
	rsp.Flags = e.Flags &^ FlagSuccess

	return rsp
}

// MakeNACK creates a NACK that returns e to its sender.
func (e *MemEvent) MakeNACK() *MemEvent {
	nack := e.MakeResponseWithCmd(NACK)
	nack.NACKed = e

	return nack
}

// Clone creates a copy of e with a new ID. The payload is copied.
func (e *MemEvent) Clone() *MemEvent {
	c := *e
	c.ID = sim.GetIDGenerator().Generate()

	if e.Data != nil {
		c.Data = append([]byte(nil), e.Data...)
	}

	return &c
}

// MemEventBuilder can build MemEvents.
type MemEventBuilder struct {
	src, dst  string
	cmd       Command
	baseAddr  uint64
	addr      uint64
	size      int
	data      []byte
	dirty     bool
	flags     Flag
	prefetch  bool
	requester string
}

// WithSrc sets the sender of the event.
func (b MemEventBuilder) WithSrc(src string) MemEventBuilder {
	b.src = src
	return b
}

// WithDst sets the receiver of the event.
func (b MemEventBuilder) WithDst(dst string) MemEventBuilder {
	b.dst = dst
	return b
}

// WithCmd sets the command.
func (b MemEventBuilder) WithCmd(cmd Command) MemEventBuilder {
	b.cmd = cmd
	return b
}

// WithBaseAddr sets the line-aligned address.
func (b MemEventBuilder) WithBaseAddr(addr uint64) MemEventBuilder {
	b.baseAddr = addr
	return b
}

// WithAddr sets the exact address of the access.
func (b MemEventBuilder) WithAddr(addr uint64) MemEventBuilder {
	b.addr = addr
	return b
}

// WithSize sets the number of bytes accessed.
func (b MemEventBuilder) WithSize(size int) MemEventBuilder {
	b.size = size
	return b
}

// WithData sets the payload.
func (b MemEventBuilder) WithData(data []byte) MemEventBuilder {
	b.data = data
	return b
}

// WithDirty marks the payload as modified.
func (b MemEventBuilder) WithDirty(dirty bool) MemEventBuilder {
	b.dirty = dirty
	return b
}

// WithFlags sets the flags.
func (b MemEventBuilder) WithFlags(flags Flag) MemEventBuilder {
	b.flags = flags
	return b
}

// AsPrefetch marks the event as a prefetch.
func (b MemEventBuilder) AsPrefetch() MemEventBuilder {
	b.prefetch = true
	return b
}

// WithRequester sets the core that started the access.
func (b MemEventBuilder) WithRequester(r string) MemEventBuilder {
	b.requester = r
	return b
}

// Build creates a new MemEvent.
func (b MemEventBuilder) Build() *MemEvent {
	e := &MemEvent{}
	e.ID = sim.GetIDGenerator().Generate()
	e.Src = b.src
	e.Dst = b.dst
	e.Cmd = b.cmd
	e.BaseAddr = b.baseAddr
	e.Addr = b.addr
	e.Size = b.size
	e.Data = b.data
	e.Dirty = b.dirty
	e.Flags = b.flags
	e.Prefetch = b.prefetch
	e.Requester = b.requester

	e.TrafficBytes = controlMsgByteOverhead
	if e.Data != nil {
		e.TrafficBytes = dataMsgByteOverhead + len(e.Data)
	}

	return e
}
