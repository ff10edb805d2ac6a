// Package protocol implements the coherence controllers. A controller
// decides, for every event that reaches a line, which state the line moves
// to and which messages are sent. The cache owns the lines and the MSHR and
// dispatches events to the controller selected by the configuration.
package protocol

import (
	"fmt"
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/internal/mshr"
	"github.com/sarchlab/coherence/sim"
)

// Protocol selects the coherence protocol.
type Protocol int

// Supported protocols.
const (
	MESI Protocol = iota
	MSI
	None
)

func (p Protocol) String() string {
	switch p {
	case MESI:
		return "mesi"
	case MSI:
		return "msi"
	case None:
		return "none"
	}

	return fmt.Sprintf("Protocol(%d)", int(p))
}

// ParseProtocol converts a protocol name to a Protocol.
func ParseProtocol(name string) (Protocol, error) {
	switch name {
	case "mesi", "MESI":
		return MESI, nil
	case "msi", "MSI":
		return MSI, nil
	case "none", "incoherent", "":
		return None, nil
	}

	return None, fmt.Errorf("unknown protocol %q", name)
}

// Config describes the cache a controller works for.
type Config struct {
	Name     string
	Protocol Protocol
	LineSize int

	// L1 caches serve cores. Other caches serve upper caches.
	L1 bool

	// Directory selects the non-inclusive controller that keeps data apart
	// from the directory entries.
	Directory bool

	// LastLevel caches sit right above memory.
	LastLevel bool

	// Lower is the name of the component below.
	Lower string

	// Latencies in cycles.
	AccessLatency uint64
	TagLatency    uint64
	MSHRLatency   uint64

	// BackoffBase is the delay in cycles before the first resend of a
	// NACKed request. Each retry doubles it.
	BackoffBase uint64

	WritebackCleanBlocks bool
	ExpectWritebackAck   bool
	SendWritebackAck     bool

	// FatalOnUnmatched turns unmatched responses into errors instead of
	// debug messages.
	FatalOnUnmatched bool
	Debug            bool
}

// DataHost stores the data of directory lines in separate slots.
type DataHost interface {
	// DataOf returns the data slot linked to the line, or nil.
	DataOf(line *coherence.CacheLine) *coherence.DataLine

	// LinkData gives the line a data slot. A victim returned with its data
	// has lost its slot, has no upper holders, and must be written back.
	LinkData(line *coherence.CacheLine) (
		victim *coherence.CacheLine, victimData []byte, ok bool)

	// UnlinkData releases the data slot of the line.
	UnlinkData(line *coherence.CacheLine)
}

// Deps are the collaborators of a controller.
type Deps struct {
	MSHR     *mshr.MSHR
	Data     DataHost
	Stats    coherence.Stats
	Listener coherence.AccessListener
	Logger   *log.Logger
	Clock    sim.TimeTeller
}

// A Controller runs the state machine of one cache. Handlers return the
// action the cache must take and an error for events that have no defined
// transition. Controllers place the events they keep into the MSHR
// themselves; the cache only retires events and replays waiters.
type Controller interface {
	// HandleRequest processes GetS, GetX, and GetSEx.
	HandleRequest(ev *coherence.MemEvent, line *coherence.CacheLine,
		replay bool) (coherence.Action, error)

	// HandleReplacement processes PutS, PutE, and PutM from an upper level.
	// The reqEvent is the event at the head of the MSHR queue, if any.
	HandleReplacement(ev *coherence.MemEvent, line *coherence.CacheLine,
		reqEvent *coherence.MemEvent) (coherence.Action, error)

	// HandleInvalidationRequest processes Inv, FetchInv, FetchInvX, and
	// Fetch from the level below.
	HandleInvalidationRequest(ev *coherence.MemEvent,
		line *coherence.CacheLine, replay bool) (coherence.Action, error)

	// HandleEviction starts the eviction of a line to make room for
	// requester. DONE means the slot is free now; STALL means the slot
	// frees up when the upper holders answer.
	HandleEviction(line *coherence.CacheLine,
		requester string) (coherence.Action, error)

	// HandleResponse processes data responses and acknowledgements. The
	// reqEvent is the event at the head of the MSHR queue, if any.
	HandleResponse(ev *coherence.MemEvent, line *coherence.CacheLine,
		reqEvent *coherence.MemEvent) (coherence.Action, error)

	// IsRetryNeeded tells if a NACKed request is still outstanding.
	IsRetryNeeded(orig *coherence.MemEvent, line *coherence.CacheLine) bool

	// Resend sends a NACKed request again after a backoff.
	Resend(orig *coherence.MemEvent)

	// Reject answers a request that found no room with a NACK.
	Reject(ev *coherence.MemEvent)

	// ForwardNoncacheable sends a copy of ev to dst and returns the copy.
	ForwardNoncacheable(ev *coherence.MemEvent,
		dst string) *coherence.MemEvent

	// UpdateTimestamp sets the current cycle.
	UpdateTimestamp(cycle uint64)

	// SendOutgoingCommands hands every message due by cycle to send, in
	// delivery order. It stops at the first send error, keeping the failed
	// message.
	SendOutgoingCommands(cycle uint64,
		send func(ev *coherence.MemEvent) error) error

	// HasPendingOutgoing tells if messages wait to be sent.
	HasPendingOutgoing() bool
}

// New creates the controller selected by the configuration.
func New(cfg Config, deps Deps) (Controller, error) {
	if err := validate(cfg, deps); err != nil {
		return nil, err
	}

	e := newEnv(cfg, deps)

	switch {
	case cfg.Protocol == None && cfg.L1:
		return &IncoherentL1{env: e}, nil
	case cfg.Protocol == None:
		return &Incoherent{env: e}, nil
	case cfg.L1:
		return &MESIL1{env: e, msi: cfg.Protocol == MSI}, nil
	case cfg.Directory:
		return &MESIDirectory{env: e, host: deps.Data}, nil
	default:
		return &MESIInclusive{env: e, msi: cfg.Protocol == MSI}, nil
	}
}

func validate(cfg Config, deps Deps) error {
	if cfg.Name == "" {
		return fmt.Errorf("controller needs a name")
	}

	if cfg.LineSize <= 0 || cfg.LineSize&(cfg.LineSize-1) != 0 {
		return fmt.Errorf("%s: line size %d is not a power of 2",
			cfg.Name, cfg.LineSize)
	}

	if cfg.Lower == "" {
		return fmt.Errorf("%s: lower level is not set", cfg.Name)
	}

	if deps.MSHR == nil {
		return fmt.Errorf("%s: mshr is not set", cfg.Name)
	}

	if cfg.Directory {
		if cfg.L1 {
			return fmt.Errorf("%s: an L1 cannot hold a directory", cfg.Name)
		}

		if cfg.Protocol != MESI {
			return fmt.Errorf("%s: the directory controller only speaks MESI",
				cfg.Name)
		}

		if deps.Data == nil {
			return fmt.Errorf("%s: directory needs a data array", cfg.Name)
		}
	}

	return nil
}

var (
	_ Controller = (*MESIL1)(nil)
	_ Controller = (*MESIInclusive)(nil)
	_ Controller = (*MESIDirectory)(nil)
	_ Controller = (*Incoherent)(nil)
	_ Controller = (*IncoherentL1)(nil)
)
