package idealmemcontroller

import (
	"log"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
)

// A Builder can build ideal memory controllers.
type Builder struct {
	engine    sim.Engine
	freq      sim.Freq
	conn      sim.Connection
	latency   int
	width     int
	lineSize  int
	sendWBAck bool
	storage   *Storage
	stats     coherence.Stats
}

// MakeBuilder returns a Builder of a 1GHz memory with a 100-cycle latency.
func MakeBuilder() Builder {
	return Builder{
		freq:     1 * sim.GHz,
		latency:  100,
		width:    1,
		lineSize: 64,
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

// WithConnection sets the connection that responses are sent through.
func (b Builder) WithConnection(conn sim.Connection) Builder {
	b.conn = conn
	return b
}

// WithLatency sets the number of cycles to answer a request.
func (b Builder) WithLatency(cycles int) Builder {
	b.latency = cycles
	return b
}

// WithWidth sets the number of requests accepted per cycle.
func (b Builder) WithWidth(width int) Builder {
	b.width = width
	return b
}

// WithLineSize sets the size of the lines that caches request.
func (b Builder) WithLineSize(lineSize int) Builder {
	b.lineSize = lineSize
	return b
}

// WithWritebackAck makes the memory answer writebacks with an AckPut.
func (b Builder) WithWritebackAck(v bool) Builder {
	b.sendWBAck = v
	return b
}

// WithStorage sets the storage, so that it can be shared or preloaded.
func (b Builder) WithStorage(s *Storage) Builder {
	b.storage = s
	return b
}

// WithStats sets the counter sink.
func (b Builder) WithStats(stats coherence.Stats) Builder {
	b.stats = stats
	return b
}

// Build creates a memory with the given name.
func (b Builder) Build(name string) *Comp {
	if b.engine == nil {
		log.Panic("engine is not set")
	}

	if b.conn == nil {
		log.Panic("connection is not set")
	}

	if b.width <= 0 {
		log.Panicf("width must be positive, got %d", b.width)
	}

	c := &Comp{
		Latency:   b.latency,
		LineSize:  b.lineSize,
		Storage:   b.storage,
		conn:      b.conn,
		width:     b.width,
		sendWBAck: b.sendWBAck,
		stats:     b.stats,
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	if c.Storage == nil {
		c.Storage = NewStorage(b.lineSize)
	}

	if c.stats == nil {
		c.stats = coherence.NopStats{}
	}

	return c
}
