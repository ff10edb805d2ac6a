package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/coherence/sim"
)

var _ = Describe("AverageTimeTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		t          *AverageTimeTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		t = NewAverageTimeTracer(timeTeller, KindIs("req_in"))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should average the duration of the selected tasks", func() {
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInSec(1))
		t.StartTask(Task{ID: "a", Kind: "req_in"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInSec(2))
		t.StartTask(Task{ID: "b", Kind: "req_in"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInSec(2))
		t.StartTask(Task{ID: "c", Kind: "req_out"})

		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInSec(3))
		t.EndTask(Task{ID: "a"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInSec(6))
		t.EndTask(Task{ID: "b"})
		timeTeller.EXPECT().CurrentTime().Return(sim.VTimeInSec(7))
		t.EndTask(Task{ID: "c"})

		Expect(t.TotalCount()).To(Equal(uint64(2)))
		Expect(t.AverageTime()).To(Equal(sim.VTimeInSec(3)))
	})
})

var _ = Describe("StepCountTracer", func() {
	It("should count steps and the tasks that pass them", func() {
		t := NewStepCountTracer(KindIs("req_in"))

		t.StartTask(Task{ID: "a", Kind: "req_in"})
		t.StartTask(Task{ID: "b", Kind: "req_in"})
		t.StartTask(Task{ID: "c", Kind: "req_out"})

		t.StepTask(Task{ID: "a", Steps: []TaskStep{{What: "mshr_hit"}}})
		t.StepTask(Task{ID: "a", Steps: []TaskStep{{What: "mshr_hit"}}})
		t.StepTask(Task{ID: "b", Steps: []TaskStep{{What: "nack"}}})
		t.StepTask(Task{ID: "c", Steps: []TaskStep{{What: "nack"}}})

		Expect(t.StepNames()).To(Equal([]string{"mshr_hit", "nack"}))
		Expect(t.StepCount("mshr_hit")).To(Equal(uint64(2)))
		Expect(t.TaskCount("mshr_hit")).To(Equal(uint64(1)))
		Expect(t.StepCount("nack")).To(Equal(uint64(1)))
	})
})
