package frontend

import (
	"log"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/vm"
	"github.com/sarchlab/coherence/sim"
)

// A Builder can build cores.
type Builder struct {
	engine         sim.Engine
	freq           sim.Freq
	conn           sim.Connection
	l1             string
	lineSize       int
	source         Source
	translator     vm.Translator
	allocator      Allocator
	width          int
	maxOutstanding int
	backoffBase    uint64
	data           byte
	stats          coherence.Stats
	logger         *log.Logger
	fatal          func(err error)
}

// MakeBuilder returns a Builder of 1GHz cores that issue one record per
// cycle and keep up to 4 requests in flight.
func MakeBuilder() Builder {
	return Builder{
		freq:           1 * sim.GHz,
		lineSize:       64,
		translator:     vm.IdentityTranslator{},
		width:          1,
		maxOutstanding: 4,
		backoffBase:    4,
		data:           1,
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

// WithConnection sets the connection to the L1.
func (b Builder) WithConnection(conn sim.Connection) Builder {
	b.conn = conn
	return b
}

// WithL1 sets the name of the L1 cache.
func (b Builder) WithL1(name string) Builder {
	b.l1 = name
	return b
}

// WithLineSize sets the line size used to split accesses.
func (b Builder) WithLineSize(n int) Builder {
	b.lineSize = n
	return b
}

// WithSource sets the records to run.
func (b Builder) WithSource(s Source) Builder {
	b.source = s
	return b
}

// WithTranslator sets the address translator.
func (b Builder) WithTranslator(t vm.Translator) Builder {
	b.translator = t
	return b
}

// WithAllocator sets what serves allocate and free records.
func (b Builder) WithAllocator(a Allocator) Builder {
	b.allocator = a
	return b
}

// WithWidth sets the number of records issued per cycle.
func (b Builder) WithWidth(n int) Builder {
	b.width = n
	return b
}

// WithMaxOutstanding sets the number of requests that can be in flight.
func (b Builder) WithMaxOutstanding(n int) Builder {
	b.maxOutstanding = n
	return b
}

// WithBackoffBase sets the delay in cycles before the first resend.
func (b Builder) WithBackoffBase(cycles uint64) Builder {
	b.backoffBase = cycles
	return b
}

// WithWriteData sets the byte that the core writes.
func (b Builder) WithWriteData(v byte) Builder {
	b.data = v
	return b
}

// WithStats sets the counter sink.
func (b Builder) WithStats(s coherence.Stats) Builder {
	b.stats = s
	return b
}

// WithLogger sets the logger.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// WithFatalHandler replaces the handler of fatal errors.
func (b Builder) WithFatalHandler(h func(err error)) Builder {
	b.fatal = h
	return b
}

// Build creates a core.
func (b Builder) Build(name string) *Core {
	b.mustBeValid()

	c := &Core{
		conn:           b.conn,
		l1:             b.l1,
		lineSize:       b.lineSize,
		source:         b.source,
		translator:     b.translator,
		allocator:      b.allocator,
		width:          b.width,
		maxOutstanding: b.maxOutstanding,
		backoffBase:    b.backoffBase,
		data:           b.data,
		stats:          b.stats,
		logger:         b.logger,
		fatal:          b.fatal,
		pending:        make(map[string]*coherence.MemEvent),
		issueTime:      make(map[string]sim.VTimeInSec),
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

	if c.backoffBase == 0 {
		c.backoffBase = 1
	}

	return c
}

func (b Builder) mustBeValid() {
	if b.engine == nil {
		log.Panic("engine is not set")
	}

	if b.conn == nil {
		log.Panic("connection is not set")
	}

	if b.l1 == "" {
		log.Panic("L1 is not set")
	}

	if b.source == nil {
		log.Panic("source is not set")
	}

	if b.width <= 0 || b.maxOutstanding <= 0 {
		log.Panic("width and outstanding requests must be positive")
	}
}
