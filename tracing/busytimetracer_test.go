package tracing

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"

	"github.com/sarchlab/coherence/sim"
)

type fakeClock struct {
	now sim.VTimeInSec
}

func (c *fakeClock) CurrentTime() sim.VTimeInSec {
	return c.now
}

type busyOp struct {
	at    sim.VTimeInSec
	start bool
	id    string
}

func start(at sim.VTimeInSec, id string) busyOp {
	return busyOp{at: at, start: true, id: id}
}

func end(at sim.VTimeInSec, id string) busyOp {
	return busyOp{at: at, id: id}
}

var _ = Describe("BusyTimeTracer", func() {
	var (
		clock *fakeClock
		t     *BusyTimeTracer
	)

	apply := func(ops ...busyOp) {
		for _, op := range ops {
			clock.now = op.at

			task := Task{ID: op.id, Kind: "req_in"}
			if op.start {
				t.StartTask(task)
			} else {
				t.EndTask(task)
			}
		}
	}

	BeforeEach(func() {
		clock = &fakeClock{}
		t = NewBusyTimeTracer(clock, nil)
	})

	DescribeTable("merging the periods of tasks",
		func(busy float64, ops ...busyOp) {
			apply(ops...)
			Expect(float64(t.BusyTime())).To(BeNumerically("~", busy, 1e-9))
			Expect(t.NumInflight()).To(BeZero())
		},
		Entry("one task", 3.0, start(2, "a"), end(5, "a")),
		Entry("disjoint tasks", 2.0,
			start(1, "a"), end(2, "a"), start(4, "b"), end(5, "b")),
		Entry("back to back tasks", 2.0,
			start(1, "a"), end(2, "a"), start(2, "b"), end(3, "b")),
		Entry("a task inside another", 4.0,
			start(1, "a"), start(2, "b"), end(3, "b"), end(5, "a")),
		Entry("chained overlaps", 1.3,
			start(1, "a"), start(1.2, "b"), end(1.5, "a"),
			start(1.8, "c"), end(2, "b"), end(2.3, "c")),
	)

	It("should not count a period that has not ended", func() {
		apply(start(1, "a"), start(2, "b"), end(3, "a"))

		Expect(t.BusyTime()).To(BeZero())
		Expect(t.NumInflight()).To(Equal(1))

		t.TerminateAllTasks(6)

		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(5)))
		Expect(t.NumInflight()).To(BeZero())
	})

	It("should ignore tasks rejected by the filter", func() {
		t = NewBusyTimeTracer(clock, KindIs("req_out"))

		apply(start(1, "a"), end(4, "a"))

		Expect(t.BusyTime()).To(BeZero())
	})

	It("should ignore ends of unknown tasks", func() {
		apply(start(1, "a"), end(2, "x"), end(3, "a"))

		Expect(t.BusyTime()).To(Equal(sim.VTimeInSec(2)))
	})

	It("measure busy time tracer", func() {
		experiment := gmeasure.NewExperiment("Busy Time Tracer Performance")
		AddReportEntry(experiment.Name, experiment)

		experiment.MeasureDuration("runtime", func() {
			for i := 0; i < 10000; i++ {
				id := fmt.Sprintf("%d", i)
				apply(start(sim.VTimeInSec(i*2), id),
					end(sim.VTimeInSec(i*2+1), id))
			}

			Expect(t.BusyTime()).To(BeNumerically("~", 10000, 0.01))
		})
	})
})
