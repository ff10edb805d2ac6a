package protocol

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/coherence/internal/mshr"
)

var _ = Describe("MESIInclusive", func() {
	var (
		cfg   Config
		m     *mshr.MSHR
		stats countingStats
		c     Controller
	)

	build := func() {
		var err error
		c, err = New(cfg, Deps{MSHR: m, Stats: stats})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		cfg = Config{
			Name:          "L2",
			Protocol:      MESI,
			LineSize:      64,
			Lower:         "Mem",
			TagLatency:    2,
			AccessLatency: 4,
			MSHRLatency:   1,
		}
		m = mshr.New(8, 2)
		stats = countingStats{}
		build()
	})

	It("should build the inclusive controller", func() {
		Expect(c).To(BeAssignableToTypeOf(&MESIInclusive{}))
	})

	It("should fetch ownership on a GetX miss", func() {
		line := lineAt(0x100, coherence.I)
		getX := request(coherence.GetX, "L1a", "L2", 0x100)

		action, err := c.HandleRequest(getX, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.IM))
		Expect(m.LookupFront(0x100)).To(BeIdenticalTo(getX))

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.GetX))
		Expect(sent[0].Dst).To(Equal("Mem"))
		Expect(sent[0].Src).To(Equal("L2"))
		Expect(sent[0].Requester).To(Equal("Core"))

		data := payload(1)
		rsp := answer(sent[0], coherence.GetXResp, data, false)
		action, err = c.HandleResponse(rsp, line, m.LookupFront(0x100))

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.M))
		Expect(line.Owner).To(Equal("L1a"))

		sent = drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.GetXResp))
		Expect(sent[0].Dst).To(Equal("L1a"))
		Expect(sent[0].RespondTo).To(Equal(getX.ID))
		Expect(sent[0].Data).To(Equal(data))
	})

	It("should upgrade at the last level after invalidating other sharers",
		func() {
			cfg.LastLevel = true
			build()

			line := lineAt(0x100, coherence.S)
			line.AddSharer("L1a")
			line.AddSharer("L1b")
			getX := request(coherence.GetX, "L1a", "L2", 0x100)

			action, err := c.HandleRequest(getX, line, false)

			Expect(err).NotTo(HaveOccurred())
			Expect(action).To(Equal(coherence.ActionStall))
			Expect(line.State).To(Equal(coherence.SMInv))
			Expect(m.AcksNeeded(0x100)).To(Equal(1))

			sent := drain(c)
			Expect(sent).To(HaveLen(1))
			Expect(sent[0].Cmd).To(Equal(coherence.Inv))
			Expect(sent[0].Dst).To(Equal("L1b"))

			ack := answer(sent[0], coherence.AckInv, nil, false)
			action, err = c.HandleResponse(ack, line, m.LookupFront(0x100))

			Expect(err).NotTo(HaveOccurred())
			Expect(action).To(Equal(coherence.ActionDone))
			Expect(line.State).To(Equal(coherence.M))
			Expect(line.Owner).To(Equal("L1a"))
			Expect(line.HasSharers()).To(BeFalse())

			sent = drain(c)
			Expect(sent).To(HaveLen(1))
			Expect(sent[0].Cmd).To(Equal(coherence.GetXResp))
			Expect(sent[0].Dst).To(Equal("L1a"))
		})

	It("should grant an upgrade right away when nobody else shares", func() {
		cfg.LastLevel = true
		build()

		line := lineAt(0x100, coherence.S)
		line.AddSharer("L1a")

		action, err := c.HandleRequest(
			request(coherence.GetX, "L1a", "L2", 0x100), line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.M))
		Expect(line.Owner).To(Equal("L1a"))
		Expect(m.Exists(0x100)).To(BeFalse())
	})

	It("should ask below for an upgrade when not at the last level", func() {
		line := lineAt(0x100, coherence.S)
		line.AddSharer("L1a")

		action, err := c.HandleRequest(
			request(coherence.GetX, "L1a", "L2", 0x100), line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.SM))

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.GetX))
		Expect(stats[coherence.StatUpgrade]).To(Equal(uint64(1)))
	})

	It("should recall the data of the owner on a FetchInv", func() {
		line := lineAt(0x100, coherence.M)
		line.Owner = "L1a"
		fetchInv := request(coherence.FetchInv, "Mem", "L2", 0x100)

		action, err := c.HandleInvalidationRequest(fetchInv, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.MInv))
		Expect(m.LookupFront(0x100)).To(BeIdenticalTo(fetchInv))

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.FetchInv))
		Expect(sent[0].Dst).To(Equal("L1a"))

		data := payload(7)
		rsp := answer(sent[0], coherence.FetchResp, data, true)
		action, err = c.HandleResponse(rsp, line, m.LookupFront(0x100))

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.I))
		Expect(line.HasOwner()).To(BeFalse())

		sent = drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.FetchResp))
		Expect(sent[0].Dst).To(Equal("Mem"))
		Expect(sent[0].Dirty).To(BeTrue())
		Expect(sent[0].Data).To(Equal(data))
	})

	It("should downgrade the owner to serve a GetS", func() {
		line := lineAt(0x100, coherence.E)
		line.Owner = "L1a"
		getS := request(coherence.GetS, "L1b", "L2", 0x100)

		action, err := c.HandleRequest(getS, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.EInvX))

		sent := drain(c)
		Expect(sent[0].Cmd).To(Equal(coherence.FetchInvX))

		rsp := answer(sent[0], coherence.FetchXResp, payload(3), true)
		action, err = c.HandleResponse(rsp, line, m.LookupFront(0x100))

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.M))
		Expect(line.HasOwner()).To(BeFalse())
		Expect(line.Sharers()).To(Equal([]string{"L1a", "L1b"}))
		Expect(line.Data).To(Equal(payload(3)))

		sent = drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.GetSResp))
		Expect(sent[0].Dst).To(Equal("L1b"))
	})

	It("should hand out a line without holders exclusively", func() {
		line := lineAt(0x100, coherence.E)

		action, err := c.HandleRequest(
			request(coherence.GetS, "L1a", "L2", 0x100), line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.Owner).To(Equal("L1a"))
		Expect(drain(c)[0].Cmd).To(Equal(coherence.GetXResp))
	})

	It("should not hand out exclusive copies under MSI", func() {
		cfg.Protocol = MSI
		build()

		line := lineAt(0x100, coherence.M)

		_, err := c.HandleRequest(
			request(coherence.GetS, "L1a", "L2", 0x100), line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(line.IsSharer("L1a")).To(BeTrue())
		Expect(drain(c)[0].Cmd).To(Equal(coherence.GetSResp))
	})

	It("should NACK a request when the MSHR is almost full", func() {
		m = mshr.New(2, 1)
		build()

		_, err := m.Insert(0x200, request(coherence.GetS, "L1b", "L2", 0x200))
		Expect(err).NotTo(HaveOccurred())

		line := lineAt(0x100, coherence.I)
		getS := request(coherence.GetS, "L1a", "L2", 0x100)

		action, err := c.HandleRequest(getS, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionIgnore))
		Expect(line.State).To(Equal(coherence.I))
		Expect(m.Exists(0x100)).To(BeFalse())

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.NACK))
		Expect(sent[0].Dst).To(Equal("L1a"))
		Expect(sent[0].NACKed).To(BeIdenticalTo(getS))
		Expect(stats[coherence.StatNACKSent]).To(Equal(uint64(1)))
	})

	It("should drop a prefetch when the MSHR is almost full", func() {
		m = mshr.New(2, 1)
		build()

		_, err := m.Insert(0x200, request(coherence.GetS, "L1b", "L2", 0x200))
		Expect(err).NotTo(HaveOccurred())

		prefetch := request(coherence.GetS, "L1a", "L2", 0x100)
		prefetch.Prefetch = true

		action, err := c.HandleRequest(prefetch, lineAt(0x100, coherence.I),
			false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionIgnore))
		Expect(drain(c)).To(BeEmpty())
		Expect(stats[coherence.StatPrefetchDrop]).To(Equal(uint64(1)))
	})

	It("should write back an owned line after recalling it", func() {
		line := lineAt(0x100, coherence.M)
		line.Owner = "L1a"

		action, err := c.HandleEviction(line, "L1b")

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.MI))

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.FetchInv))

		data := payload(9)
		rsp := answer(sent[0], coherence.FetchResp, data, true)
		action, err = c.HandleResponse(rsp, line, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.I))

		sent = drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.PutM))
		Expect(sent[0].Data).To(Equal(data))
		Expect(m.Exists(0x100)).To(BeFalse())
	})

	It("should expect an AckPut when configured to", func() {
		cfg.ExpectWritebackAck = true
		build()

		line := lineAt(0x100, coherence.M)

		action, err := c.HandleEviction(line, "L1a")

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(m.PendingWriteback(0x100)).To(BeTrue())

		put := drain(c)[0]
		action, err = c.HandleResponse(
			answer(put, coherence.AckPut, nil, false), nil, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(m.PendingWriteback(0x100)).To(BeFalse())
	})

	It("should drop clean lines silently at the last level", func() {
		cfg.LastLevel = true
		build()

		line := lineAt(0x100, coherence.E)

		action, err := c.HandleEviction(line, "L1a")

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(drain(c)).To(BeEmpty())
	})

	It("should serve a GetS and take the PutS back", func() {
		line := lineAt(0x100, coherence.S)

		action, err := c.HandleRequest(
			request(coherence.GetS, "L1a", "L2", 0x100), line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.IsSharer("L1a")).To(BeTrue())
		Expect(drain(c)[0].Cmd).To(Equal(coherence.GetSResp))

		put := request(coherence.PutS, "L1a", "L2", 0x100)
		action, err = c.HandleReplacement(put, line, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.HasSharers()).To(BeFalse())
		Expect(line.State).To(Equal(coherence.S))
	})

	It("should treat a PutS that crosses an Inv as the ack", func() {
		line := lineAt(0x100, coherence.S)
		line.AddSharer("L1a")
		inv := request(coherence.Inv, "Mem", "L2", 0x100)

		action, err := c.HandleInvalidationRequest(inv, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.SInv))
		Expect(drain(c)[0].Cmd).To(Equal(coherence.Inv))

		put := request(coherence.PutS, "L1a", "L2", 0x100)
		action, err = c.HandleReplacement(put, line, m.LookupFront(0x100))

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.I))

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Cmd).To(Equal(coherence.AckInv))
		Expect(sent[0].Dst).To(Equal("Mem"))
	})

	It("should block invalidations behind an eviction", func() {
		line := lineAt(0x100, coherence.S)
		line.AddSharer("L1a")

		_, err := c.HandleEviction(line, "L1b")
		Expect(err).NotTo(HaveOccurred())
		m.InsertPointer(0x100, 0x200)

		inv := request(coherence.Inv, "Mem", "L2", 0x100)
		action, err := c.HandleInvalidationRequest(inv, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionBlock))

		elements := m.Elements(0x100)
		Expect(elements).To(HaveLen(2))
		Expect(elements[0].Kind).To(Equal(mshr.KindPointer))
		Expect(elements[1].Event).To(BeIdenticalTo(inv))
	})

	It("should let an Inv overtake an upgrade", func() {
		line := lineAt(0x100, coherence.S)
		line.AddSharer("L1a")
		getX := request(coherence.GetX, "L1a", "L2", 0x100)

		_, err := c.HandleRequest(getX, line, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(line.State).To(Equal(coherence.SM))
		drain(c)

		inv := request(coherence.Inv, "Mem", "L2", 0x100)
		action, err := c.HandleInvalidationRequest(inv, line, false)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(line.State).To(Equal(coherence.SMInv))
		Expect(m.LookupFront(0x100)).To(BeIdenticalTo(inv))

		sent := drain(c)
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Dst).To(Equal("L1a"))

		action, err = c.HandleResponse(
			answer(sent[0], coherence.AckInv, nil, false),
			line, m.LookupFront(0x100))

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionDone))
		Expect(line.State).To(Equal(coherence.IM))
		Expect(drain(c)[0].Cmd).To(Equal(coherence.AckInv))
	})

	It("should not insert a replayed request twice", func() {
		line := lineAt(0x100, coherence.I)
		getS := request(coherence.GetS, "L1a", "L2", 0x100)
		_, err := m.Insert(0x100, getS)
		Expect(err).NotTo(HaveOccurred())

		action, err := c.HandleRequest(getS, line, true)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionStall))
		Expect(m.Size()).To(Equal(1))
	})

	It("should drop unmatched responses", func() {
		line := lineAt(0x100, coherence.IS)
		rsp := request(coherence.GetSResp, "Mem", "L2", 0x100)
		rsp.RespondTo = "nobody"

		action, err := c.HandleResponse(rsp, line, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(coherence.ActionIgnore))
		Expect(stats[coherence.StatUnmatched]).To(Equal(uint64(1)))
	})

	It("should fail on unmatched responses when configured to", func() {
		cfg.FatalOnUnmatched = true
		build()

		rsp := request(coherence.AckInv, "L1a", "L2", 0x100)

		_, err := c.HandleResponse(rsp, lineAt(0x100, coherence.S), nil)

		Expect(errors.Is(err, coherence.ErrUnmatched)).To(BeTrue())
	})

	It("should report undefined transitions", func() {
		line := lineAt(0x100, coherence.M)
		line.Owner = "L1a"

		_, err := c.HandleRequest(
			request(coherence.GetX, "L1a", "L2", 0x100), line, false)

		var perr *coherence.ProtocolError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.State).To(Equal(coherence.M))
		Expect(perr.Cmd).To(Equal(coherence.GetX))
	})

	It("should resend a NACKed request after a backoff", func() {
		cfg.BackoffBase = 4
		build()

		line := lineAt(0x100, coherence.I)
		_, err := c.HandleRequest(
			request(coherence.GetS, "L1a", "L2", 0x100), line, false)
		Expect(err).NotTo(HaveOccurred())

		fwd := drain(c)[0]
		Expect(c.IsRetryNeeded(fwd, line)).To(BeTrue())

		c.UpdateTimestamp(10)
		c.Resend(fwd)

		Expect(fwd.RetryCount).To(Equal(1))
		Expect(c.SendOutgoingCommands(13,
			func(*coherence.MemEvent) error { return nil })).To(Succeed())
		Expect(c.HasPendingOutgoing()).To(BeTrue())
		Expect(drain(c)).To(Equal([]*coherence.MemEvent{fwd}))
	})

	It("should keep messages about a line in order", func() {
		line := lineAt(0x100, coherence.S)

		c.HandleRequest(request(coherence.GetS, "L1a", "L2", 0x100), line, false)
		c.HandleRequest(request(coherence.GetS, "L1b", "L2", 0x100), line, false)

		Expect(line.Timestamp).To(Equal(uint64(8)))

		sent := drain(c)
		Expect(sent[0].Dst).To(Equal("L1a"))
		Expect(sent[1].Dst).To(Equal("L1b"))
	})
})
