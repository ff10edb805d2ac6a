package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
)

var _ = Describe("API", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *MockNamedHookable
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = NewMockNamedHookable(mockCtrl)
		domain.EXPECT().NumHooks().Return(1).AnyTimes()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should panic if ID is not given", func() {
		domain.EXPECT().Name().Return("Domain").AnyTimes()
		Expect(func() {
			StartTask("", "123", domain, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if domain is nil", func() {
		Expect(func() {
			StartTask("id", "123", nil, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if the domain has no name", func() {
		domain.EXPECT().Name().Return("").AnyTimes()
		Expect(func() {
			StartTask("id", "123", domain, "kind", "what", nil)
		}).Should(Panic())
	})

	It("should panic if kind or what is empty", func() {
		domain.EXPECT().Name().Return("Domain").AnyTimes()
		Expect(func() {
			StartTask("id", "123", domain, "", "what", nil)
		}).Should(Panic())
		Expect(func() {
			StartTask("id", "123", domain, "kind", "", nil)
		}).Should(Panic())
	})

	It("should trace a request received by a cache", func() {
		ev := coherence.MemEventBuilder{}.
			WithSrc("L1").
			WithDst("L2").
			WithCmd(coherence.GetS).
			Build()

		domain.EXPECT().Name().Return("L2").AnyTimes()

		var tasks []Task
		domain.EXPECT().InvokeHook(gomock.Any()).
			Do(func(ctx sim.HookCtx) {
				tasks = append(tasks, ctx.Item.(Task))
			}).Times(2)

		TraceReqReceive(ev, domain)
		TraceReqComplete(ev, domain)

		Expect(tasks[0].ID).To(Equal(ev.ID + "@L2"))
		Expect(tasks[0].ParentID).To(Equal(ev.ID + "_req_out"))
		Expect(tasks[0].Kind).To(Equal("req_in"))
		Expect(tasks[0].What).To(Equal("GetS"))
		Expect(tasks[1].ID).To(Equal(ev.ID + "@L2"))
	})
})

var _ = Describe("StepCountTracer", func() {
	It("should count steps and the tasks that pass them", func() {
		t := NewStepCountTracer(KindIs("req_in"))

		t.StartTask(Task{ID: "1", Kind: "req_in"})
		t.StartTask(Task{ID: "2", Kind: "req_in"})
		t.StartTask(Task{ID: "3", Kind: "req_out"})

		t.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "mshr-stall"}}})
		t.StepTask(Task{ID: "1", Steps: []TaskStep{{What: "mshr-stall"}}})
		t.StepTask(Task{ID: "2", Steps: []TaskStep{{What: "nack"}}})
		t.StepTask(Task{ID: "3", Steps: []TaskStep{{What: "nack"}}})

		Expect(t.StepNames()).To(Equal([]string{"mshr-stall", "nack"}))
		Expect(t.StepCount("mshr-stall")).To(Equal(uint64(2)))
		Expect(t.TaskCount("mshr-stall")).To(Equal(uint64(1)))
		Expect(t.StepCount("nack")).To(Equal(uint64(1)))
	})
})
