package cache

import (
	"log"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/internal/mshr"
	"github.com/sarchlab/coherence/mem/coherence/internal/tagging"
	"github.com/sarchlab/coherence/mem/coherence/protocol"
	"github.com/sarchlab/coherence/sim"
)

// A Builder can build coherent caches.
type Builder struct {
	engine sim.Engine
	freq   sim.Freq
	conn   sim.Connection
	lower  string

	protocol  protocol.Protocol
	l1        bool
	directory bool
	lastLevel bool

	lineSize     int
	numLines     int
	ways         int
	numDataLines int
	dataWays     int
	policy       string
	seed         int64

	mshrCapacity int
	mshrReserve  int

	accessLatency uint64
	tagLatency    uint64
	mshrLatency   uint64
	backoffBase   uint64

	writebackClean   bool
	expectWBAck      bool
	sendWBAck        bool
	fatalOnUnmatched bool
	allNoncacheable  bool
	debug            bool

	stats    coherence.Stats
	listener coherence.AccessListener
	logger   *log.Logger
	fatal    FatalHandler
}

// MakeBuilder returns a Builder with default parameters: a 1GHz, 32KB,
// 8-way MESI cache of 64B lines with a 16-entry MSHR.
func MakeBuilder() Builder {
	return Builder{
		freq:          1 * sim.GHz,
		protocol:      protocol.MESI,
		lineSize:      64,
		numLines:      512,
		ways:          8,
		policy:        "lru",
		mshrCapacity:  16,
		mshrReserve:   2,
		accessLatency: 2,
		tagLatency:    1,
		mshrLatency:   1,
		backoffBase:   4,
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the frequency.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithConnection sets the connection that the cache sends messages through.
// The caller plugs the cache into the connection.
func (b Builder) WithConnection(conn sim.Connection) Builder {
	b.conn = conn
	return b
}

// WithLowerModule sets the name of the cache or memory below.
func (b Builder) WithLowerModule(name string) Builder {
	b.lower = name
	return b
}

// WithProtocol sets the coherence protocol.
func (b Builder) WithProtocol(p protocol.Protocol) Builder {
	b.protocol = p
	return b
}

// AsL1 makes the cache serve cores.
func (b Builder) AsL1() Builder {
	b.l1 = true
	return b
}

// AsLastLevel marks the cache as the one right above memory.
func (b Builder) AsLastLevel() Builder {
	b.lastLevel = true
	return b
}

// WithDirectory makes the cache non-inclusive. It keeps numDataLines data
// slots in dataWays ways next to its directory entries.
func (b Builder) WithDirectory(numDataLines, dataWays int) Builder {
	b.directory = true
	b.numDataLines = numDataLines
	b.dataWays = dataWays

	return b
}

// WithLog2LineSize sets the line size to 2^n bytes.
func (b Builder) WithLog2LineSize(n int) Builder {
	b.lineSize = 1 << n
	return b
}

// WithNumLines sets the number of lines, or directory entries.
func (b Builder) WithNumLines(n int) Builder {
	b.numLines = n
	return b
}

// WithWayAssociativity sets the number of ways.
func (b Builder) WithWayAssociativity(ways int) Builder {
	b.ways = ways
	return b
}

// WithReplacementPolicy selects the policy by name, such as "lru".
func (b Builder) WithReplacementPolicy(name string) Builder {
	b.policy = name
	return b
}

// WithRandomSeed sets the seed of the random replacement policies.
func (b Builder) WithRandomSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithMSHR sets the number of MSHR entries and how many of them are kept
// for invalidations.
func (b Builder) WithMSHR(capacity, reserve int) Builder {
	b.mshrCapacity = capacity
	b.mshrReserve = reserve

	return b
}

// WithLatencies sets the access, tag, and MSHR latencies in cycles.
func (b Builder) WithLatencies(access, tag, mshr uint64) Builder {
	b.accessLatency = access
	b.tagLatency = tag
	b.mshrLatency = mshr

	return b
}

// WithBackoffBase sets the delay of the first resend of a NACKed request.
func (b Builder) WithBackoffBase(cycles uint64) Builder {
	b.backoffBase = cycles
	return b
}

// WithWritebackCleanBlocks attaches data to clean writebacks.
func (b Builder) WithWritebackCleanBlocks(v bool) Builder {
	b.writebackClean = v
	return b
}

// WithWritebackAcks sets whether writebacks to the lower level wait for an
// AckPut, and whether writebacks from upper levels get one.
func (b Builder) WithWritebackAcks(expect, send bool) Builder {
	b.expectWBAck = expect
	b.sendWBAck = send

	return b
}

// WithFatalOnUnmatched makes unmatched responses fatal.
func (b Builder) WithFatalOnUnmatched(v bool) Builder {
	b.fatalOnUnmatched = v
	return b
}

// WithAllNoncacheable makes the cache pass every request through.
func (b Builder) WithAllNoncacheable(v bool) Builder {
	b.allNoncacheable = v
	return b
}

// WithDebug turns on debug messages.
func (b Builder) WithDebug(v bool) Builder {
	b.debug = v
	return b
}

// WithStats sets the counter sink.
func (b Builder) WithStats(stats coherence.Stats) Builder {
	b.stats = stats
	return b
}

// WithAccessListener sets the listener notified of every access.
func (b Builder) WithAccessListener(l coherence.AccessListener) Builder {
	b.listener = l
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// WithFatalHandler replaces the handler of protocol errors.
func (b Builder) WithFatalHandler(h FatalHandler) Builder {
	b.fatal = h
	return b
}

// Build creates a cache with the given name.
func (b Builder) Build(name string) *Comp {
	b.mustBeValid()

	c := &Comp{
		conn:            b.conn,
		lineSize:        b.lineSize,
		lower:           b.lower,
		allNoncacheable: b.allNoncacheable,
		stats:           b.stats,
		logger:          b.logger,
		fatal:           b.fatal,
		noncacheable:    make(map[string]*coherence.MemEvent),
		receivedReqs:    make(map[string]*coherence.MemEvent),
		initiatedReqs:   make(map[string]bool),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	if c.stats == nil {
		c.stats = coherence.NopStats{}
	}

	if c.logger == nil {
		c.logger = log.Default()
	}

	if c.fatal == nil {
		c.fatal = func(err error) { atexit.Fatalf("%v", err) }
	}

	c.mshr = mshr.New(b.mshrCapacity, b.mshrReserve)

	var data protocol.DataHost

	if b.directory {
		array := tagging.NewDualArray(b.numLines, b.ways,
			b.numDataLines, b.dataWays, b.lineSize,
			b.mustCreatePolicy(b.numLines), b.mustCreatePolicy(b.numDataLines))
		array.IsBusy = c.isBusy
		c.array = array
		data = array
	} else {
		array := tagging.NewSetAssociativeArray(b.numLines, b.ways,
			b.lineSize, b.mustCreatePolicy(b.numLines))
		array.IsBusy = c.isBusy
		c.array = array
	}

	ctrl, err := protocol.New(b.controllerConfig(name), protocol.Deps{
		MSHR:     c.mshr,
		Data:     data,
		Stats:    c.stats,
		Listener: b.listener,
		Logger:   c.logger,
		Clock:    b.engine,
	})
	if err != nil {
		log.Panic(err)
	}

	c.ctrl = ctrl

	return c
}

func (b Builder) mustBeValid() {
	if b.engine == nil {
		log.Panic("engine is not set")
	}

	if b.conn == nil {
		log.Panic("connection is not set")
	}

	if b.lower == "" {
		log.Panic("lower module is not set")
	}
}

func (b Builder) mustCreatePolicy(numSlots int) tagging.ReplacementPolicy {
	p, err := tagging.NewPolicy(b.policy, numSlots, b.seed)
	if err != nil {
		log.Panic(err)
	}

	return p
}

func (b Builder) controllerConfig(name string) protocol.Config {
	return protocol.Config{
		Name:                 name,
		Protocol:             b.protocol,
		LineSize:             b.lineSize,
		L1:                   b.l1,
		Directory:            b.directory,
		LastLevel:            b.lastLevel,
		Lower:                b.lower,
		AccessLatency:        b.accessLatency,
		TagLatency:           b.tagLatency,
		MSHRLatency:          b.mshrLatency,
		BackoffBase:          b.backoffBase,
		WritebackCleanBlocks: b.writebackClean,
		ExpectWritebackAck:   b.expectWBAck,
		SendWritebackAck:     b.sendWBAck,
		FatalOnUnmatched:     b.fatalOnUnmatched,
		Debug:                b.debug,
	}
}
