package idealmemcontroller

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/sim"
	"github.com/sarchlab/coherence/sim/directconnection"
)

type recordingCache struct {
	engine   sim.Engine
	received []*coherence.MemEvent
	times    []sim.VTimeInSec
}

func (r *recordingCache) Name() string {
	return "Cache"
}

func (r *recordingCache) Recv(msg sim.Msg) {
	r.received = append(r.received, msg.(*coherence.MemEvent))
	r.times = append(r.times, r.engine.CurrentTime())
}

var _ = Describe("Ideal Memory Controller", func() {
	var (
		engine *sim.SerialEngine
		conn   *directconnection.Comp
		cache  *recordingCache
		memory *Comp
	)

	send := func(cmd coherence.Command, addr uint64) *coherence.MemEvent {
		ev := coherence.MemEventBuilder{}.
			WithSrc("Cache").
			WithDst("Memory").
			WithCmd(cmd).
			WithBaseAddr(addr).
			WithAddr(addr).
			WithSize(64).
			Build()
		Expect(conn.Send(ev)).To(Succeed())

		return ev
	}

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		conn = directconnection.MakeBuilder().
			WithEngine(engine).
			WithLatency(1).
			Build("Conn")
		cache = &recordingCache{engine: engine}
		memory = MakeBuilder().
			WithEngine(engine).
			WithConnection(conn).
			WithLatency(10).
			Build("Memory")
		conn.PlugIn(cache)
		conn.PlugIn(memory)
	})

	It("should answer a GetS with the whole line after the latency", func() {
		Expect(memory.Storage.Write(0x48, []byte{1, 2, 3, 4})).To(Succeed())

		req := send(coherence.GetS, 0x40)
		Expect(engine.Run()).To(Succeed())

		Expect(cache.received).To(HaveLen(1))
		rsp := cache.received[0]
		Expect(rsp.Cmd).To(Equal(coherence.GetSResp))
		Expect(rsp.RespondTo).To(Equal(req.ID))
		Expect(rsp.Src).To(Equal("Memory"))
		Expect(rsp.Data).To(HaveLen(64))
		Expect(rsp.Data[8:12]).To(Equal([]byte{1, 2, 3, 4}))
		Expect(cache.times[0]).To(BeNumerically(">=", 10e-9))
	})

	It("should answer a GetSEx with a GetXResp", func() {
		send(coherence.GetSEx, 0x0)
		Expect(engine.Run()).To(Succeed())

		Expect(cache.received[0].Cmd).To(Equal(coherence.GetXResp))
	})

	It("should store written back data", func() {
		put := coherence.MemEventBuilder{}.
			WithSrc("Cache").
			WithDst("Memory").
			WithCmd(coherence.PutM).
			WithBaseAddr(0x80).
			WithData(payloadOf(7)).
			WithDirty(true).
			Build()
		Expect(conn.Send(put)).To(Succeed())
		send(coherence.GetS, 0x80)

		Expect(engine.Run()).To(Succeed())

		Expect(cache.received).To(HaveLen(1))
		Expect(cache.received[0].Data).To(Equal(payloadOf(7)))
	})

	It("should acknowledge writebacks if asked to", func() {
		memory.sendWBAck = true

		put := coherence.MemEventBuilder{}.
			WithSrc("Cache").
			WithDst("Memory").
			WithCmd(coherence.PutS).
			WithBaseAddr(0x80).
			Build()
		Expect(conn.Send(put)).To(Succeed())
		Expect(engine.Run()).To(Succeed())

		Expect(cache.received).To(HaveLen(1))
		Expect(cache.received[0].Cmd).To(Equal(coherence.AckPut))
		Expect(cache.received[0].RespondTo).To(Equal(put.ID))
	})

	It("should serve non-cacheable accesses at byte granularity", func() {
		write := coherence.MemEventBuilder{}.
			WithSrc("Cache").
			WithDst("Memory").
			WithCmd(coherence.GetX).
			WithBaseAddr(0x100).
			WithAddr(0x104).
			WithSize(2).
			WithData([]byte{9, 9}).
			WithFlags(coherence.FlagNoncacheable).
			Build()
		read := coherence.MemEventBuilder{}.
			WithSrc("Cache").
			WithDst("Memory").
			WithCmd(coherence.GetS).
			WithBaseAddr(0x100).
			WithAddr(0x103).
			WithSize(4).
			WithFlags(coherence.FlagNoncacheable).
			Build()
		Expect(conn.Send(write)).To(Succeed())
		Expect(conn.Send(read)).To(Succeed())

		Expect(engine.Run()).To(Succeed())

		Expect(cache.received).To(HaveLen(2))
		Expect(cache.received[0].Cmd).To(Equal(coherence.GetXResp))
		Expect(cache.received[1].Data).To(Equal([]byte{0, 9, 9, 0}))
		Expect(cache.received[1].HasFlag(coherence.FlagNoncacheable)).To(BeTrue())
	})

	It("should reject accesses that cross a line", func() {
		_, err := memory.Storage.Read(0x3e, 4)
		Expect(err).To(HaveOccurred())
	})
})

func payloadOf(seed byte) []byte {
	data := make([]byte, 64)
	for i := range data {
		data[i] = seed + byte(i)
	}

	return data
}
