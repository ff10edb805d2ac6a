package directconnection

import (
	"log"

	"github.com/sarchlab/coherence/sim"
)

// Builder can help building directconnection.
type Builder struct {
	engine  sim.Engine
	freq    sim.Freq
	latency int
}

// MakeBuilder creates a builder with a 1GHz clock and a one-cycle latency.
func MakeBuilder() Builder {
	return Builder{
		freq:    1 * sim.GHz,
		latency: 1,
	}
}

// WithEngine sets the engine that schedules the deliveries.
func (b Builder) WithEngine(e sim.Engine) Builder {
	b.engine = e
	return b
}

// WithFreq sets the clock that the latency is counted in.
func (b Builder) WithFreq(f sim.Freq) Builder {
	b.freq = f
	return b
}

// WithLatency sets the number of cycles between sending and delivery.
func (b Builder) WithLatency(cycles int) Builder {
	b.latency = cycles
	return b
}

// Build creates a new connection.
func (b Builder) Build(name string) *Comp {
	if b.engine == nil {
		log.Panic("engine is not set")
	}

	if b.latency < 0 {
		log.Panicf("latency cannot be negative, got %d", b.latency)
	}

	sim.NameMustBeValid(name)

	c := new(Comp)
	c.name = name
	c.engine = b.engine
	c.freq = b.freq
	c.latency = b.latency
	c.receivers = make(map[string]sim.MsgReceiver)

	return c
}
