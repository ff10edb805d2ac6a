package platform

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/sarchlab/coherence/sim"
)

// CoreReport summarizes the requests of one core.
type CoreReport struct {
	Name           string
	Completed      uint64
	AverageLatency sim.VTimeInSec
}

// RunReport summarizes a finished simulation.
type RunReport struct {
	SimTime sim.VTimeInSec
	Cores   []CoreReport

	L2Requests       uint64
	L2AverageLatency sim.VTimeInSec
	L2BusyTime       sim.VTimeInSec
	MemoryBusyTime   sim.VTimeInSec

	// L2Steps counts how often each step happened to the L2 requests.
	L2Steps map[string]uint64

	// Counters holds the non-zero counters of every component, by component
	// name.
	Counters map[string]map[string]uint64
}

func (p *Platform) report() *RunReport {
	r := &RunReport{
		SimTime:          p.Engine.CurrentTime(),
		L2Requests:       p.l2Latency.TotalCount(),
		L2AverageLatency: p.l2Latency.AverageTime(),
		L2BusyTime:       p.l2Busy.BusyTime(),
		MemoryBusyTime:   p.memBusy.BusyTime(),
		L2Steps:          make(map[string]uint64),
		Counters:         make(map[string]map[string]uint64),
	}

	for _, c := range p.Cores {
		r.Cores = append(r.Cores, CoreReport{
			Name:           c.Name(),
			Completed:      c.NumCompleted(),
			AverageLatency: c.AverageLatency(),
		})
	}

	for _, step := range p.l2Steps.StepNames() {
		r.L2Steps[step] = p.l2Steps.StepCount(step)
	}

	for name, c := range p.Counters {
		snapshot := make(map[string]uint64)

		for k, v := range c.Snapshot() {
			if v != 0 {
				snapshot[k] = v
			}
		}

		if len(snapshot) > 0 {
			r.Counters[name] = snapshot
		}
	}

	return r
}

// Counter returns a counter of a component, or 0.
func (r *RunReport) Counter(component, name string) uint64 {
	return r.Counters[component][name]
}

// TotalCounter sums a counter over all the components.
func (r *RunReport) TotalCounter(name string) uint64 {
	total := uint64(0)
	for _, c := range r.Counters {
		total += c[name]
	}

	return total
}

// Print writes the report as aligned tables.
func (r *RunReport) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Simulated time\t%.9f s\n", r.SimTime)
	fmt.Fprintf(tw, "L2 requests\t%d\n", r.L2Requests)
	fmt.Fprintf(tw, "L2 average latency\t%.3f ns\n", r.L2AverageLatency*1e9)
	fmt.Fprintf(tw, "L2 busy time\t%.3f ns\n", r.L2BusyTime*1e9)
	fmt.Fprintf(tw, "Memory busy time\t%.3f ns\n", r.MemoryBusyTime*1e9)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Core\tCompleted\tAverage latency (ns)")

	for _, c := range r.Cores {
		fmt.Fprintf(tw, "%s\t%d\t%.3f\n",
			c.Name, c.Completed, c.AverageLatency*1e9)
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Component\tCounter\tValue")

	for _, comp := range sortedKeys(r.Counters) {
		for _, name := range sortedKeys(r.Counters[comp]) {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", comp, name, r.Counters[comp][name])
		}
	}

	if len(r.L2Steps) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "L2 step\tCount")

		for _, step := range sortedKeys(r.L2Steps) {
			fmt.Fprintf(tw, "%s\t%d\n", step, r.L2Steps[step])
		}
	}

	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
