package platform

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/sarchlab/coherence/datarecording"
	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/cache"
	"github.com/sarchlab/coherence/mem/coherence/protocol"
	"github.com/sarchlab/coherence/mem/frontend"
	"github.com/sarchlab/coherence/mem/idealmemcontroller"
	"github.com/sarchlab/coherence/mem/trace"
	"github.com/sarchlab/coherence/mem/vm"
	"github.com/sarchlab/coherence/monitoring"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/sim/directconnection"
	"github.com/sarchlab/coherence/tracing"
)

type traceReader struct {
	path   string
	reader *frontend.TextReader
}

// Platform is a built simulation. Core i issues its records to L1[i]. All
// L1s share the L2, which sits above the memory.
type Platform struct {
	Engine        *sim.SerialEngine
	Conn          *directconnection.Comp
	Memory        *idealmemcontroller.Comp
	L2            *cache.Comp
	L1s           []*cache.Comp
	Cores         []*frontend.Core
	MemoryManager *vm.MemoryManager

	// Counters holds the counters of every component, by component name.
	Counters map[string]*trace.Counters

	config *Config
	freq   sim.Freq
	logger *log.Logger

	recorder  datarecording.DataRecorder
	accesses  *trace.AccessRecorder
	dbTracer  tracing.Tracer
	logTracer tracing.Tracer

	l2Latency *tracing.AverageTimeTracer
	l2Busy    *tracing.BusyTimeTracer
	l2Steps   *tracing.StepCountTracer
	memBusy   *tracing.BusyTimeTracer

	monitor  *monitoring.Monitor
	progress *monitoring.ProgressBar

	traceFiles   []*os.File
	traceReaders []traceReader

	errs []error
}

// fail records a fatal error and halts the engine after the current event,
// so that Run returns it.
func (p *Platform) fail(err error) {
	p.errs = append(p.errs, err)
	p.Engine.Stop()
}

func (p *Platform) caches() []*cache.Comp {
	return append([]*cache.Comp{p.L2}, p.L1s...)
}

func (p *Platform) components() []sim.Component {
	comps := []sim.Component{p.Memory, p.L2}

	for _, l1 := range p.L1s {
		comps = append(comps, l1)
	}

	for _, c := range p.Cores {
		comps = append(comps, c)
	}

	return comps
}

func (p *Platform) tracedDomains() []tracing.NamedHookable {
	domains := []tracing.NamedHookable{p.Memory, p.L2}

	for _, l1 := range p.L1s {
		domains = append(domains, l1)
	}

	for _, c := range p.Cores {
		domains = append(domains, c)
	}

	return domains
}

func (p *Platform) numCompleted() uint64 {
	n := uint64(0)
	for _, c := range p.Cores {
		n += c.NumCompleted()
	}

	return n
}

func (p *Platform) numOutstanding() uint64 {
	n := uint64(0)
	for _, c := range p.Cores {
		n += uint64(c.NumOutstanding())
	}

	return n
}

// updateProgress shows completed accesses as finished and the requests
// waiting for an answer as in progress.
func (p *Platform) updateProgress(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosAfterEvent {
		return
	}

	total := p.progress.Total

	finished := min(p.numCompleted(), total)
	inProgress := min(p.numOutstanding(), total-finished)

	p.progress.Set(finished, inProgress)
}

// Run starts the cores and runs the simulation to the end. A fatal error
// reported by a component ends the run early and is returned. Run also
// fails if the caches are not quiet and coherent when the events run out.
func (p *Platform) Run() (*RunReport, error) {
	defer p.closeTraces()

	for _, c := range p.Cores {
		c.Start()
	}

	if err := p.Engine.Run(); err != nil {
		return nil, err
	}

	p.Engine.Finished()
	p.l2Busy.TerminateAllTasks(p.Engine.CurrentTime())
	p.memBusy.TerminateAllTasks(p.Engine.CurrentTime())

	if p.progress != nil {
		p.monitor.CompleteProgressBar(p.progress)
	}

	if p.recorder != nil {
		p.recorder.Flush()
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	if err := p.check(); err != nil {
		return nil, err
	}

	return p.report(), nil
}

func (p *Platform) check() error {
	for _, t := range p.traceReaders {
		if err := t.reader.Err(); err != nil {
			return fmt.Errorf("trace %s: %w", t.path, err)
		}
	}

	for _, c := range p.Cores {
		if !c.Done() {
			return fmt.Errorf("%s stopped with %d requests in flight",
				c.Name(), c.NumOutstanding())
		}
	}

	for _, c := range p.caches() {
		if !c.IsIdle() {
			return fmt.Errorf("%s is not idle at the end of the simulation",
				c.Name())
		}

		if err := c.CheckInvariants(); err != nil {
			return err
		}
	}

	if proto, _ := p.config.protocol(); proto == protocol.None {
		return nil
	}

	return p.checkSingleWriter()
}

// checkSingleWriter verifies that a line held in E or M by one L1 is not
// held by any other L1.
func (p *Platform) checkSingleWriter() error {
	holders := make(map[uint64][]*coherence.CacheLine)
	owners := make(map[uint64]string)

	for _, l1 := range p.L1s {
		for _, line := range l1.Lines() {
			if line.State == coherence.I {
				continue
			}

			holders[line.BaseAddr] = append(holders[line.BaseAddr], line)

			if line.State == coherence.E || line.State == coherence.M {
				owners[line.BaseAddr] = l1.Name()
			}
		}
	}

	for addr, owner := range owners {
		if len(holders[addr]) > 1 {
			return fmt.Errorf("line 0x%x is writable in %s and held by %d L1s",
				addr, owner, len(holders[addr]))
		}
	}

	return nil
}

func (p *Platform) closeTraces() {
	for _, f := range p.traceFiles {
		f.Close()
	}

	p.traceFiles = nil
}
