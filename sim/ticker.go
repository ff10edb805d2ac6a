package sim

// TickEvent is a generic event that almost all the component can use to
// update their status.
type TickEvent struct {
	EventBase
}

// MakeTickEvent creates a new TickEvent.
func MakeTickEvent(handler Handler, time VTimeInSec) TickEvent {
	evt := TickEvent{}
	evt.ID = GetIDGenerator().Generate()
	evt.handler = handler
	evt.time = time

	return evt
}

// A Ticker is an object that updates states with ticks. Tick returns true if
// the ticker wants to tick again in the next cycle.
type Ticker interface {
	Tick() bool
}

// TickScheduler can help schedule tick events. It keeps at most one future
// tick in the engine.
type TickScheduler struct {
	handler Handler
	Freq    Freq
	Engine  Engine

	nextTickTime VTimeInSec
}

// NewTickScheduler creates a scheduler for tick events.
func NewTickScheduler(
	handler Handler,
	engine Engine,
	freq Freq,
) *TickScheduler {
	ts := new(TickScheduler)

	ts.handler = handler
	ts.Engine = engine
	ts.Freq = freq
	ts.nextTickTime = -1

	return ts
}

// TickNow schedules a tick at the current cycle.
func (t *TickScheduler) TickNow() {
	t.tickAt(t.Freq.ThisTick(t.CurrentTime()))
}

// TickLater schedules a tick at the cycle after the current time.
func (t *TickScheduler) TickLater() {
	t.tickAt(t.Freq.NextTick(t.CurrentTime()))
}

func (t *TickScheduler) tickAt(time VTimeInSec) {
	if t.nextTickTime >= time {
		return
	}

	t.nextTickTime = time
	t.Engine.Schedule(MakeTickEvent(t.handler, time))
}

// CurrentTime returns the engine time.
func (t *TickScheduler) CurrentTime() VTimeInSec {
	return t.Engine.CurrentTime()
}

// TickingComponent is a type of component that update states from cycle to
// cycle. A programmer would only need to program a tick function for a ticking
// component.
type TickingComponent struct {
	*ComponentBase
	*TickScheduler

	ticker Ticker
}

// NewTickingComponent creates a new ticking component.
func NewTickingComponent(
	name string,
	engine Engine,
	freq Freq,
	ticker Ticker,
) *TickingComponent {
	tc := new(TickingComponent)
	tc.TickScheduler = NewTickScheduler(tc, engine, freq)
	tc.ComponentBase = NewComponentBase(name)
	tc.ticker = ticker

	return tc
}

// Handle triggers the tick function of the TickingComponent.
func (c *TickingComponent) Handle(_ Event) error {
	madeProgress := c.ticker.Tick()
	if madeProgress {
		c.TickLater()
	}

	return nil
}
