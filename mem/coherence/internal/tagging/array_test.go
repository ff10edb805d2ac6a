package tagging

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherence/mem/coherence"
)

var _ = Describe("SetAssociativeArray", func() {
	var a *SetAssociativeArray

	BeforeEach(func() {
		a = NewSetAssociativeArray(8, 2, 64, NewLRU(8))
	})

	It("should miss before replacement", func() {
		Expect(a.Lookup(0x100, true)).To(BeNil())
	})

	It("should find a replaced line", func() {
		line := a.FindReplacementCandidate(0x100)
		a.Replace(0x100, line)

		Expect(a.Lookup(0x108, true)).To(BeIdenticalTo(line))
		Expect(line.BaseAddr).To(Equal(uint64(0x100)))
		Expect(line.State).To(Equal(coherence.I))
	})

	It("should map addresses to sets", func() {
		Expect(a.SetIndex(0x0)).To(Equal(0))
		Expect(a.SetIndex(0x40)).To(Equal(1))
		Expect(a.SetIndex(0x100)).To(Equal(0))
	})

	It("should forget the old address on replacement", func() {
		line := a.FindReplacementCandidate(0x0)
		a.Replace(0x0, line)
		line.State = coherence.S

		a.Replace(0x100, line)

		Expect(a.Lookup(0x0, false)).To(BeNil())
		Expect(a.Lookup(0x100, false)).To(BeIdenticalTo(line))
	})

	It("should refuse a slot from another set", func() {
		line := a.FindReplacementCandidate(0x40)

		Expect(func() { a.Replace(0x0, line) }).To(Panic())
	})

	It("should prefer invalid lines", func() {
		line0 := a.FindReplacementCandidate(0x0)
		a.Replace(0x0, line0)
		line0.State = coherence.S

		victim := a.FindReplacementCandidate(0x100)

		Expect(victim).NotTo(BeIdenticalTo(line0))
		Expect(victim.State).To(Equal(coherence.I))
	})

	It("should prefer lines without holders", func() {
		line0 := a.FindReplacementCandidate(0x0)
		a.Replace(0x0, line0)
		line0.State = coherence.S

		line1 := a.FindReplacementCandidate(0x100)
		a.Replace(0x100, line1)
		line1.State = coherence.S
		line1.AddSharer("L1[0]")

		a.Lookup(0x0, true)

		Expect(a.FindReplacementCandidate(0x200)).To(BeIdenticalTo(line0))
	})

	It("should avoid lines in transition and locked lines", func() {
		line0 := a.FindReplacementCandidate(0x0)
		a.Replace(0x0, line0)
		line0.State = coherence.IM

		line1 := a.FindReplacementCandidate(0x100)
		a.Replace(0x100, line1)
		line1.State = coherence.M
		line1.AddSharer("L1[0]")

		Expect(a.FindReplacementCandidate(0x200)).To(BeIdenticalTo(line1))

		line1.UserLock = 1
		victim := a.FindReplacementCandidate(0x200)
		Expect(victim.InTransition() || victim.UserLock > 0).To(BeTrue())
	})

	It("should avoid busy lines", func() {
		line0 := a.FindReplacementCandidate(0x0)
		a.Replace(0x0, line0)
		line0.State = coherence.S

		line1 := a.FindReplacementCandidate(0x100)
		a.Replace(0x100, line1)
		line1.State = coherence.S
		a.Lookup(0x100, true)

		a.IsBusy = func(l *coherence.CacheLine) bool { return l == line0 }

		Expect(a.FindReplacementCandidate(0x200)).To(BeIdenticalTo(line1))
	})
})

var _ = Describe("DualArray", func() {
	var a *DualArray

	BeforeEach(func() {
		a = NewDualArray(8, 2, 2, 2, 64, NewLRU(8), NewLRU(2))
	})

	bind := func(addr uint64, state coherence.State) *coherence.CacheLine {
		line := a.FindReplacementCandidate(addr)
		a.Replace(addr, line)
		line.State = state

		return line
	}

	It("should link directory and data lines", func() {
		line := bind(0x0, coherence.S)

		victim, _, ok := a.LinkData(line)

		Expect(ok).To(BeTrue())
		Expect(victim).To(BeNil())
		Expect(a.DataOf(line)).NotTo(BeNil())
		Expect(a.DataOf(line).DirIndex).To(Equal(line.Index))
		Expect(a.CheckLinks()).To(Succeed())
	})

	It("should take the data of a line with holders first", func() {
		shared := bind(0x0, coherence.S)
		shared.AddSharer("L1[0]")
		alone := bind(0x40, coherence.S)
		_, _, _ = a.LinkData(alone)
		_, _, _ = a.LinkData(shared)

		line := bind(0x100, coherence.S)
		victim, _, ok := a.LinkData(line)

		Expect(ok).To(BeTrue())
		Expect(victim).To(BeNil())
		Expect(shared.DataIndex).To(Equal(coherence.NoLink))
		Expect(alone.DataIndex).NotTo(Equal(coherence.NoLink))
		Expect(a.CheckLinks()).To(Succeed())
	})

	It("should return a holderless victim with its data", func() {
		alone1 := bind(0x0, coherence.M)
		alone2 := bind(0x40, coherence.S)
		_, _, _ = a.LinkData(alone1)
		a.DataOf(alone1).Data[0] = 42
		_, _, _ = a.LinkData(alone2)
		a.Lookup(0x40, true)

		line := bind(0x100, coherence.S)
		victim, data, ok := a.LinkData(line)

		Expect(ok).To(BeTrue())
		Expect(victim).To(BeIdenticalTo(alone1))
		Expect(data[0]).To(Equal(byte(42)))
		Expect(alone1.DataIndex).To(Equal(coherence.NoLink))
		Expect(a.CheckLinks()).To(Succeed())
	})

	It("should fail when all data belongs to lines in transition", func() {
		l1 := bind(0x0, coherence.S)
		l2 := bind(0x40, coherence.S)
		_, _, _ = a.LinkData(l1)
		_, _, _ = a.LinkData(l2)
		l1.State = coherence.SInv
		l2.State = coherence.MI

		_, _, ok := a.LinkData(bind(0x100, coherence.S))

		Expect(ok).To(BeFalse())
	})

	It("should release data when the directory line is replaced", func() {
		line := bind(0x0, coherence.S)
		_, _, _ = a.LinkData(line)
		dataIndex := line.DataIndex

		a.Replace(0x100, line)

		Expect(line.DataIndex).To(Equal(coherence.NoLink))
		Expect(a.DataLines()[dataIndex].DirIndex).To(Equal(coherence.NoLink))
		Expect(a.CheckLinks()).To(Succeed())
	})

	It("should detect broken back-links", func() {
		line := bind(0x0, coherence.S)
		_, _, _ = a.LinkData(line)

		a.DataLines()[line.DataIndex].DirIndex = 5

		Expect(a.CheckLinks()).NotTo(Succeed())
	})
})
