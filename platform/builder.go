package platform

import (
	"fmt"
	"log"
	"os"

	"github.com/sarchlab/coherence/datarecording"
	"github.com/sarchlab/coherence/mem/coherence/cache"
	"github.com/sarchlab/coherence/mem/frontend"
	"github.com/sarchlab/coherence/mem/idealmemcontroller"
	"github.com/sarchlab/coherence/mem/trace"
	"github.com/sarchlab/coherence/mem/vm"
	"github.com/sarchlab/coherence/monitoring"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/sim/directconnection"
	"github.com/sarchlab/coherence/tracing"
)

// Builder can build platforms.
type Builder struct {
	config   *Config
	recorder datarecording.DataRecorder
	monitor  *monitoring.Monitor
	logger   *log.Logger
}

// MakeBuilder returns a Builder of the default platform.
func MakeBuilder() Builder {
	return Builder{
		config: DefaultConfig(),
	}
}

// WithConfig sets the configuration of the platform.
func (b Builder) WithConfig(c *Config) Builder {
	b.config = c
	return b
}

// WithRecorder stores accesses and transactions into the recorder.
func (b Builder) WithRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// WithMonitor registers the components with a monitor.
func (b Builder) WithMonitor(m *monitoring.Monitor) Builder {
	b.monitor = m
	return b
}

// WithLogger sets the logger of every component.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build creates the platform. It fails if the configuration is invalid or a
// trace cannot be opened.
func (b Builder) Build() (*Platform, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		config:   b.config,
		Engine:   sim.NewSerialEngine(),
		Counters: make(map[string]*trace.Counters),
		recorder: b.recorder,
		monitor:  b.monitor,
		logger:   b.logger,
	}

	if p.logger == nil {
		p.logger = log.Default()
	}

	if b.config.LogEvents {
		p.Engine.AcceptHook(sim.NewEventLogger(p.logger))
	}

	p.freq = sim.Freq(b.config.FreqGHz) * sim.GHz
	p.Conn = directconnection.MakeBuilder().
		WithEngine(p.Engine).
		WithFreq(p.freq).
		WithLatency(b.config.ConnLatency).
		Build("Conn")

	if b.recorder != nil {
		p.accesses = trace.NewAccessRecorder(b.recorder)
		p.dbTracer = trace.NewDBTracer(b.recorder, p.Engine)
	}

	if b.config.TraceLog {
		p.logTracer = trace.NewTracer(p.logger, p.Engine)
	}

	b.buildMemory(p)
	b.buildL2(p)
	b.buildL1s(p)

	if err := b.buildCores(p); err != nil {
		p.closeTraces()
		return nil, err
	}

	b.attachTracers(p)
	b.registerWithMonitor(p)

	return p, nil
}

func (b Builder) counters(p *Platform, name string) *trace.Counters {
	c := trace.NewCounters()
	p.Counters[name] = c

	return c
}

func (b Builder) buildMemory(p *Platform) {
	p.Memory = idealmemcontroller.MakeBuilder().
		WithEngine(p.Engine).
		WithFreq(p.freq).
		WithConnection(p.Conn).
		WithLatency(b.config.MemoryLatency).
		WithLineSize(b.config.LineSize).
		WithWritebackAck(b.config.WritebackAcks).
		WithStats(b.counters(p, "Memory")).
		Build("Memory")
	p.Conn.PlugIn(p.Memory)
}

func (b Builder) cacheBuilder(p *Platform, c CacheConfig, name string) cache.Builder {
	proto, _ := b.config.protocol()

	cb := cache.MakeBuilder().
		WithEngine(p.Engine).
		WithFreq(p.freq).
		WithConnection(p.Conn).
		WithProtocol(proto).
		WithLog2LineSize(b.config.log2LineSize()).
		WithNumLines(c.NumLines).
		WithWayAssociativity(c.Ways).
		WithReplacementPolicy(c.Policy).
		WithRandomSeed(b.config.Seed).
		WithMSHR(c.MSHR, c.MSHRReserve).
		WithLatencies(c.AccessLatency, c.TagLatency, c.MSHRLatency).
		WithFatalOnUnmatched(b.config.FatalOnUnmatched).
		WithStats(b.counters(p, name)).
		WithLogger(p.logger).
		WithFatalHandler(p.fail)

	if p.accesses != nil {
		cb = cb.WithAccessListener(p.accesses)
	}

	return cb
}

func (b Builder) buildL2(p *Platform) {
	cb := b.cacheBuilder(p, b.config.L2, "L2").
		WithLowerModule("Memory").
		AsLastLevel().
		WithWritebackAcks(b.config.WritebackAcks, b.config.WritebackAcks)

	if b.config.SharedCache == SharedDirectory {
		cb = cb.WithDirectory(b.config.L2.DataLines, b.config.L2.DataWays)
	}

	p.L2 = cb.Build("L2")
	p.Conn.PlugIn(p.L2)
}

func (b Builder) buildL1s(p *Platform) {
	for i := 0; i < b.config.NumCores; i++ {
		name := fmt.Sprintf("L1[%d]", i)

		cb := b.cacheBuilder(p, b.config.L1, name).
			WithLowerModule("L2").
			AsL1().
			WithWritebackAcks(b.config.WritebackAcks, false).
			WithWritebackCleanBlocks(b.config.SharedCache == SharedDirectory)

		l1 := cb.Build(name)
		p.Conn.PlugIn(l1)
		p.L1s = append(p.L1s, l1)
	}
}

func (b Builder) buildCores(p *Platform) error {
	if b.config.VM.Enabled {
		p.MemoryManager = vm.NewMemoryManager(
			b.config.VM.Log2PageSize,
			b.config.VM.NumFrames,
			b.config.VM.AutoMap)
		p.MemoryManager.SetLogger(p.logger)
		p.MemoryManager.SetFatalOnUnmatchedFree(b.config.FatalOnUnmatched)
	}

	for i := 0; i < b.config.NumCores; i++ {
		source, err := b.source(p, i)
		if err != nil {
			return err
		}

		name := fmt.Sprintf("Core[%d]", i)

		cb := frontend.MakeBuilder().
			WithEngine(p.Engine).
			WithFreq(p.freq).
			WithConnection(p.Conn).
			WithL1(p.L1s[i].Name()).
			WithLineSize(b.config.LineSize).
			WithSource(source).
			WithWidth(b.config.Core.Width).
			WithMaxOutstanding(b.config.Core.MaxOutstanding).
			WithBackoffBase(b.config.Core.BackoffBase).
			WithWriteData(byte(i + 1)).
			WithStats(b.counters(p, name)).
			WithLogger(p.logger).
			WithFatalHandler(p.fail)

		if p.MemoryManager != nil {
			space := p.MemoryManager.Process(vm.PID(i + 1))
			cb = cb.WithTranslator(space).WithAllocator(space)
		}

		core := cb.Build(name)
		p.Conn.PlugIn(core)
		p.Cores = append(p.Cores, core)
	}

	return nil
}

func (b Builder) source(p *Platform, core int) (frontend.Source, error) {
	if len(b.config.Workload.Traces) == 0 {
		return frontend.NewGenerator(b.config.generatorConfig(core))
	}

	path := b.config.Workload.Traces[core]

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace of core %d: %w", core, err)
	}

	reader := frontend.NewTextReader(f)
	p.traceFiles = append(p.traceFiles, f)
	p.traceReaders = append(p.traceReaders, traceReader{path, reader})

	return reader, nil
}

func (b Builder) attachTracers(p *Platform) {
	p.l2Latency = tracing.NewAverageTimeTracer(p.Engine, tracing.KindIs("req_in"))
	p.l2Busy = tracing.NewBusyTimeTracer(p.Engine, tracing.KindIs("req_in"))
	p.l2Steps = tracing.NewStepCountTracer(tracing.KindIs("req_in"))
	p.memBusy = tracing.NewBusyTimeTracer(p.Engine, tracing.KindIs("req_in"))

	tracing.CollectTrace(p.L2, p.l2Latency)
	tracing.CollectTrace(p.L2, p.l2Busy)
	tracing.CollectTrace(p.L2, p.l2Steps)
	tracing.CollectTrace(p.Memory, p.memBusy)

	for _, domain := range p.tracedDomains() {
		if p.dbTracer != nil {
			tracing.CollectTrace(domain, p.dbTracer)
		}

		if p.logTracer != nil {
			tracing.CollectTrace(domain, p.logTracer)
		}
	}
}

func (b Builder) registerWithMonitor(p *Platform) {
	if p.monitor == nil {
		return
	}

	p.monitor.RegisterEngine(p.Engine)

	for _, c := range p.components() {
		p.monitor.RegisterComponent(c)
	}

	for name, c := range p.Counters {
		p.monitor.RegisterCounters(name, c)
	}

	if len(b.config.Workload.Traces) == 0 {
		total := uint64(b.config.NumCores * b.config.Workload.NumAccesses)
		p.progress = p.monitor.CreateProgressBar("Accesses", total)
		p.Engine.AcceptHook(sim.HookFunc(p.updateProgress))
	}
}
