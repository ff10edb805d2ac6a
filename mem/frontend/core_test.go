package frontend

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/sim/directconnection"
	"github.com/sarchlab/coherence/tracing"
)

type fakeL1 struct {
	conn      sim.Connection
	received  []*coherence.MemEvent
	nackFirst int
}

func (l *fakeL1) Name() string {
	return "L1"
}

func (l *fakeL1) Recv(msg sim.Msg) {
	ev := msg.(*coherence.MemEvent)
	l.received = append(l.received, ev)

	if l.nackFirst > 0 {
		l.nackFirst--
		Expect(l.conn.Send(ev.MakeNACK())).To(Succeed())

		return
	}

	Expect(l.conn.Send(ev.MakeResponse())).To(Succeed())
}

type counters map[string]uint64

func (c counters) Add(name string, delta uint64) {
	c[name] += delta
}

var _ = Describe("Core", func() {
	var (
		mockCtrl   *gomock.Controller
		translator *MockTranslator
		engine     *sim.SerialEngine
		conn       *directconnection.Comp
		l1         *fakeL1
		stats      counters
		errs       []error
	)

	build := func(b Builder, records ...Record) *Core {
		core := b.
			WithEngine(engine).
			WithConnection(conn).
			WithL1("L1").
			WithSource(NewSliceSource(records...)).
			WithStats(stats).
			WithFatalHandler(func(err error) { errs = append(errs, err) }).
			Build("Core")
		conn.PlugIn(core)
		core.Start()

		return core
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		translator = NewMockTranslator(mockCtrl)
		engine = sim.NewSerialEngine()
		conn = directconnection.MakeBuilder().
			WithEngine(engine).
			WithLatency(1).
			Build("Conn")
		l1 = &fakeL1{conn: conn}
		conn.PlugIn(l1)
		stats = counters{}
		errs = nil
	})

	It("should split a line-crossing access and translate each part", func() {
		translator.EXPECT().Translate(uint64(0x3c)).Return(uint64(0x103c), nil)
		translator.EXPECT().Translate(uint64(0x40)).Return(uint64(0x2040), nil)

		core := build(MakeBuilder().WithTranslator(translator),
			Record{Op: OpRead, VAddr: 0x3c, Size: 8, InstPtr: 0x400000})

		Expect(engine.Run()).To(Succeed())
		Expect(errs).To(BeEmpty())

		Expect(l1.received).To(HaveLen(2))
		Expect(l1.received[0].Cmd).To(Equal(coherence.GetS))
		Expect(l1.received[0].BaseAddr).To(Equal(uint64(0x1000)))
		Expect(l1.received[0].Addr).To(Equal(uint64(0x103c)))
		Expect(l1.received[0].Size).To(Equal(4))
		Expect(l1.received[0].InstPtr).To(Equal(uint64(0x400000)))
		Expect(l1.received[1].BaseAddr).To(Equal(uint64(0x2040)))
		Expect(l1.received[1].VAddr).To(Equal(uint64(0x40)))
		Expect(l1.received[1].Size).To(Equal(4))

		Expect(core.Done()).To(BeTrue())
		Expect(core.NumCompleted()).To(Equal(uint64(2)))
		Expect(stats[StatCoreSplit]).To(Equal(uint64(1)))
		Expect(stats[StatCoreRead]).To(Equal(uint64(2)))
	})

	It("should send writes with data", func() {
		build(MakeBuilder().WithWriteData(7),
			Record{Op: OpWrite, VAddr: 0x80, Size: 4})

		Expect(engine.Run()).To(Succeed())

		Expect(l1.received).To(HaveLen(1))
		Expect(l1.received[0].Cmd).To(Equal(coherence.GetX))
		Expect(l1.received[0].Data).To(Equal([]byte{7, 7, 7, 7}))
		Expect(l1.received[0].Requester).To(Equal("Core"))
	})

	It("should resend a NACKed request after the backoff", func() {
		l1.nackFirst = 1

		core := build(MakeBuilder().WithBackoffBase(4),
			Record{Op: OpRead, VAddr: 0x0, Size: 8})

		Expect(engine.Run()).To(Succeed())

		Expect(l1.received).To(HaveLen(2))
		Expect(l1.received[1]).To(BeIdenticalTo(l1.received[0]))
		Expect(l1.received[1].RetryCount).To(Equal(1))
		Expect(stats[StatCoreNACK]).To(Equal(uint64(1)))
		Expect(core.Done()).To(BeTrue())
	})

	It("should wait for answers when too many requests are in flight", func() {
		build(MakeBuilder().WithMaxOutstanding(1),
			Record{Op: OpRead, VAddr: 0x0, Size: 8},
			Record{Op: OpRead, VAddr: 0x40, Size: 8})

		Expect(engine.Run()).To(Succeed())

		Expect(l1.received).To(HaveLen(2))
		Expect(l1.received[1].RecvTime - l1.received[0].RecvTime).
			To(BeNumerically(">=", 2e-9))
	})

	It("should pass allocations and frees to the allocator", func() {
		allocator := NewMockAllocator(mockCtrl)
		gomock.InOrder(
			allocator.EXPECT().Allocate(uint64(0x1000), uint64(4096), 1),
			allocator.EXPECT().Free(uint64(0x1000)),
		)

		core := build(MakeBuilder().WithAllocator(allocator),
			Record{Op: OpAllocate, VAddr: 0x1000, Size: 4096, Level: 1},
			Record{Op: OpNoop},
			Record{Op: OpFree, VAddr: 0x1000},
			Record{Op: OpExit},
			Record{Op: OpRead, VAddr: 0x0, Size: 8})

		Expect(engine.Run()).To(Succeed())
		Expect(l1.received).To(BeEmpty())
		Expect(core.Done()).To(BeTrue())
	})

	It("should report translation failures", func() {
		failure := errors.New("no page")
		translator.EXPECT().Translate(uint64(0x40)).Return(uint64(0), failure)

		build(MakeBuilder().WithTranslator(translator),
			Record{Op: OpRead, VAddr: 0x40, Size: 8})

		Expect(engine.Run()).To(Succeed())
		Expect(errs).To(HaveLen(1))
		Expect(errors.Is(errs[0], failure)).To(BeTrue())
		Expect(l1.received).To(BeEmpty())
	})

	It("should report responses that match no request", func() {
		core := build(MakeBuilder())

		rsp := coherence.MemEventBuilder{}.
			WithSrc("L1").
			WithDst("Core").
			WithCmd(coherence.GetSResp).
			Build()
		rsp.RespondTo = "nothing"
		core.Recv(rsp)

		Expect(errs).To(HaveLen(1))
	})

	It("should trace the latency of its requests", func() {
		core := build(MakeBuilder(),
			Record{Op: OpRead, VAddr: 0x0, Size: 8},
			Record{Op: OpWrite, VAddr: 0x40, Size: 8})

		tracer := tracing.NewAverageTimeTracer(engine, tracing.KindIs("req_out"))
		tracing.CollectTrace(core, tracer)

		Expect(engine.Run()).To(Succeed())
		Expect(tracer.TotalCount()).To(Equal(uint64(2)))
		Expect(tracer.AverageTime()).To(BeNumerically("~", 2e-9, 1e-12))
		Expect(core.AverageLatency()).To(BeNumerically("~", 2e-9, 1e-12))
	})
})
