package platform

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/coherence/datarecording"
	"github.com/sarchlab/coherence/mem/coherence"
	"github.com/sarchlab/coherence/mem/frontend"
	"github.com/sarchlab/coherence/mem/trace"
	"github.com/sarchlab/coherence/monitoring"
	"github.com/sarchlab/coherence/sim"
)

var _ = Describe("Platform", func() {
	run := func(c *Config) (*Platform, *RunReport) {
		p, err := MakeBuilder().WithConfig(c).Build()
		Expect(err).NotTo(HaveOccurred())

		report, err := p.Run()
		Expect(err).NotTo(HaveOccurred())

		return p, report
	}

	DescribeTable("running a sharing workload to the end",
		func(proto, shared, pattern string) {
			c := smallConfig()
			c.Protocol = proto
			c.SharedCache = shared
			c.Workload.Pattern = pattern

			p, report := run(c)

			Expect(report.Cores).To(HaveLen(2))
			for _, core := range report.Cores {
				Expect(core.Completed).To(Equal(uint64(50)))
				Expect(core.AverageLatency).To(BeNumerically(">", 0))
			}

			Expect(report.SimTime).To(BeNumerically(">", 0))
			Expect(report.L2Requests).To(BeNumerically(">", 0))
			Expect(report.MemoryBusyTime).To(BeNumerically(">", 0))
			Expect(report.Counter("Core[0]", frontend.StatCoreCompleted)).
				To(Equal(uint64(50)))

			for _, l1 := range p.L1s {
				Expect(l1.IsIdle()).To(BeTrue())
			}
		},
		Entry("MESI inclusive, false sharing",
			"mesi", SharedInclusive, frontend.PatternFalseSharing),
		Entry("MESI inclusive, true sharing",
			"mesi", SharedInclusive, frontend.PatternTrueSharing),
		Entry("MSI inclusive, random",
			"msi", SharedInclusive, frontend.PatternRandom),
		Entry("MESI directory, false sharing",
			"mesi", SharedDirectory, frontend.PatternFalseSharing),
		Entry("MESI directory, random",
			"mesi", SharedDirectory, frontend.PatternRandom),
		Entry("incoherent, private",
			"incoherent", SharedInclusive, frontend.PatternPrivate),
	)

	DescribeTable("running a random workload under eviction pressure",
		func(proto, shared string, writebackAcks bool) {
			c := contendedConfig()
			c.Protocol = proto
			c.SharedCache = shared
			c.WritebackAcks = writebackAcks

			_, report := run(c)

			Expect(report.Cores).To(HaveLen(4))
			for _, core := range report.Cores {
				Expect(core.Completed).To(Equal(uint64(500)))
			}

			Expect(report.TotalCounter(coherence.StatEviction)).
				To(BeNumerically(">", 0))
		},
		Entry("MESI inclusive", "mesi", SharedInclusive, false),
		Entry("MESI inclusive, writeback acks", "mesi", SharedInclusive, true),
		Entry("MSI inclusive", "msi", SharedInclusive, false),
		Entry("MSI inclusive, writeback acks", "msi", SharedInclusive, true),
		Entry("MESI directory", "mesi", SharedDirectory, false),
		Entry("MESI directory, writeback acks", "mesi", SharedDirectory, true),
		Entry("incoherent", "incoherent", SharedInclusive, false),
	)

	It("should halt on the first protocol violation", func() {
		c := smallConfig()
		c.Workload.NumAccesses = 1000

		p, err := MakeBuilder().WithConfig(c).Build()
		Expect(err).NotTo(HaveOccurred())

		bogus := coherence.MemEventBuilder{}.
			WithSrc("L2").
			WithDst("L1[0]").
			WithCmd(coherence.PutS).
			WithBaseAddr(0x40).
			WithAddr(0x40).
			WithSize(64).
			WithRequester("L2").
			Build()
		Expect(p.Conn.Send(bogus)).To(Succeed())

		report, err := p.Run()

		var violation *coherence.ProtocolError
		Expect(errors.As(err, &violation)).To(BeTrue())
		Expect(violation.Cache).To(Equal("L1[0]"))
		Expect(report).To(BeNil())
		Expect(p.Cores[0].Done()).To(BeFalse())
		Expect(p.Engine.CurrentTime()).To(BeNumerically("<", 1e-6))
	})

	It("should invalidate the other copies of written lines", func() {
		c := smallConfig()
		c.Workload.Pattern = frontend.PatternTrueSharing
		c.Workload.WriteRatio = 1

		_, report := run(c)

		Expect(report.TotalCounter(coherence.StatInvSent)).
			To(BeNumerically(">", 0))
	})

	It("should run traces in their own address spaces", func() {
		dir := GinkgoT().TempDir()
		text := "A 0x10000 8192 1\nW 0x10000 8\nR 0x10040 8\nW 0x11000 4\n" +
			"F 0x10000\nX\n"

		c := smallConfig()
		c.VM.Enabled = true
		c.VM.AutoMap = false
		c.VM.NumFrames = 8

		for i := 0; i < c.NumCores; i++ {
			path := filepath.Join(dir, fmt.Sprintf("core%d.trace", i))
			Expect(os.WriteFile(path, []byte(text), 0644)).To(Succeed())
			c.Workload.Traces = append(c.Workload.Traces, path)
		}

		p, report := run(c)

		for _, core := range report.Cores {
			Expect(core.Completed).To(Equal(uint64(3)))
		}

		Expect(p.MemoryManager.NumFreeFrames()).To(Equal(uint64(8)))

		// The two processes wrote to different frames.
		Expect(report.Counter("L2", coherence.StatInvSent)).To(BeZero())
	})

	It("should fail on a malformed trace", func() {
		dir := GinkgoT().TempDir()
		c := smallConfig()

		for i := 0; i < c.NumCores; i++ {
			path := filepath.Join(dir, fmt.Sprintf("core%d.trace", i))
			Expect(os.WriteFile(path, []byte("R 0x40 8\nQ\n"), 0644)).
				To(Succeed())
			c.Workload.Traces = append(c.Workload.Traces, path)
		}

		p, err := MakeBuilder().WithConfig(c).Build()
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Run()
		Expect(err).To(MatchError(ContainSubstring("line 2")))
	})

	It("should fail to build when a trace is missing", func() {
		c := smallConfig()
		c.Workload.Traces = []string{"/nonexistent/a", "/nonexistent/b"}

		_, err := MakeBuilder().WithConfig(c).Build()
		Expect(err).To(MatchError(ContainSubstring("core 0")))
	})

	It("should report accesses that miss a mapping", func() {
		dir := GinkgoT().TempDir()
		c := smallConfig()
		c.VM.Enabled = true
		c.VM.AutoMap = false

		for i := 0; i < c.NumCores; i++ {
			path := filepath.Join(dir, fmt.Sprintf("core%d.trace", i))
			Expect(os.WriteFile(path, []byte("R 0x40 8\n"), 0644)).To(Succeed())
			c.Workload.Traces = append(c.Workload.Traces, path)
		}

		p, err := MakeBuilder().WithConfig(c).Build()
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Run()
		Expect(err).To(HaveOccurred())
	})

	It("should record accesses and transactions", func() {
		db, err := sql.Open("sqlite3", ":memory:")
		Expect(err).NotTo(HaveOccurred())
		db.SetMaxOpenConns(1)
		DeferCleanup(db.Close)

		recorder := datarecording.NewWithDB(db)

		c := smallConfig()
		c.Workload.NumAccesses = 10

		p, err := MakeBuilder().WithConfig(c).WithRecorder(recorder).Build()
		Expect(err).NotTo(HaveOccurred())

		_, err = p.Run()
		Expect(err).NotTo(HaveOccurred())

		Expect(recorder.ListTables()).To(ContainElements(
			trace.AccessTable, trace.TransactionTable, trace.StepTable))

		count := func(table string) int {
			n := 0
			Expect(db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)).
				To(Succeed())
			return n
		}

		Expect(count(trace.AccessTable)).To(BeNumerically(">=", 20))
		Expect(count(trace.TransactionTable)).To(BeNumerically(">=", 20))
	})

	It("should show progress while running and remove it at the end", func() {
		monitor := monitoring.NewMonitor()

		p, err := MakeBuilder().
			WithConfig(smallConfig()).
			WithMonitor(monitor).
			Build()
		Expect(err).NotTo(HaveOccurred())
		Expect(p.progress).NotTo(BeNil())
		Expect(p.progress.Total).To(Equal(uint64(100)))

		sawInProgress := false
		p.Engine.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			if ctx.Pos == sim.HookPosAfterEvent && p.progress.InProgress > 0 {
				sawInProgress = true
			}
		}))

		_, err = p.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(p.progress.Finished).To(Equal(uint64(100)))
		Expect(p.progress.InProgress).To(BeZero())
		Expect(sawInProgress).To(BeTrue())
	})

	It("should print the report", func() {
		_, report := run(smallConfig())

		buf := new(bytes.Buffer)
		Expect(report.Print(buf)).To(Succeed())

		Expect(buf.String()).To(ContainSubstring("Core[1]"))
		Expect(buf.String()).To(ContainSubstring("L2 requests"))
		Expect(buf.String()).To(ContainSubstring(coherence.StatGetSMiss))
	})
})
