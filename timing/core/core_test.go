package core_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hansungk/cyclotron/config"
	"github.com/hansungk/cyclotron/op"
	"github.com/hansungk/cyclotron/timing/core"
	"github.com/hansungk/cyclotron/timing/lsu"
	"github.com/hansungk/cyclotron/timing/sched"
)

const runBound = 100_000

type logRecorder struct{ lines []string }

func (r *logRecorder) Logf(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func testConfig(numWarps int) *config.RunConfig {
	cfg := config.DefaultRunConfig()
	cfg.NumWarps = numWarps
	cfg.Normalize()
	return cfg
}

// program builds one operation per class, with lane addresses for the
// memory classes striding one word per lane.
func program(lanes int, classes ...op.Class) []op.Operation {
	ops := make([]op.Operation, 0, len(classes))
	for i, class := range classes {
		o := op.Operation{
			Class:     class,
			PC:        0x1000 + uint64(4*i),
			LaneMask:  op.FullMask(lanes),
			BarrierID: 1,
		}
		if class.IsMemory() {
			base := uint64(0x2000 + 0x100*i)
			for lane := 0; lane < lanes; lane++ {
				o.LaneAddrs = append(o.LaneAddrs, base+uint64(4*lane))
			}
		}
		ops = append(ops, o)
	}
	return ops
}

var _ = Describe("Core", func() {
	It("runs a pure execute program to completion", func() {
		c, err := core.New(testConfig(1))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.LoadProgram(0, program(4, op.Int, op.IntMul, op.Exit))).
			To(Succeed())

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Execute.Issued()).To(Equal(uint64(2)))
		Expect(report.Execute.Completed()).To(Equal(uint64(2)))
		Expect(report.Writeback.Completed).To(Equal(uint64(2)))
		Expect(c.WarpStates()).To(
			Equal([]sched.WarpState{sched.Finished}))
	})

	It("finishes a warp with an empty program immediately", func() {
		c, err := core.New(testConfig(2))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.LoadProgram(0, program(4, op.Int, op.Exit))).To(Succeed())

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())
		Expect(c.WarpStates()[1]).To(Equal(sched.Finished))
	})

	It("advances every warp through its own stream", func() {
		cfg := testConfig(4)
		c, err := core.New(cfg)
		Expect(err).ToNot(HaveOccurred())
		for w := 0; w < 4; w++ {
			Expect(c.LoadProgram(w, program(4, op.Fp, op.Exit))).To(Succeed())
		}

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Execute.Completed()).To(Equal(uint64(4)))
		Expect(report.Scheduler.IssuedWarpsSum).To(
			BeNumerically(">=", uint64(8)))
		Expect(report.Icache.Completed).To(Equal(report.Icache.Issued))
	})

	It("releases all warps at a barrier together", func() {
		c, err := core.New(testConfig(4))
		Expect(err).ToNot(HaveOccurred())
		for w := 0; w < 4; w++ {
			Expect(c.LoadProgram(w, program(4, op.Barrier, op.Int, op.Exit))).
				To(Succeed())
		}

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Barrier.Arrivals).To(Equal(uint64(4)))
		Expect(report.Barrier.ReleaseEvents).To(Equal(uint64(1)))
		Expect(report.Barrier.WarpsReleased).To(Equal(uint64(4)))
		Expect(report.Execute.Completed()).To(Equal(uint64(4)))
	})

	It("stalls a warp until its shared load completes", func() {
		c, err := core.New(testConfig(1))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.LoadProgram(0, program(4, op.LoadShared, op.Int, op.Exit))).
			To(Succeed())

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Smem.Issued).To(BeNumerically(">", uint64(0)))
		Expect(report.Smem.Completed).To(Equal(report.Smem.Issued))
		Expect(report.Lsu.Queue(lsu.SharedLoad).Issued).
			To(BeNumerically(">", uint64(0)))
		Expect(report.Writeback.Completed).To(BeNumerically(">", uint64(1)))
	})

	It("routes global traffic through the memory hierarchy", func() {
		c, err := core.New(testConfig(1))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.LoadProgram(0, program(4, op.LoadGlobal, op.Exit))).
			To(Succeed())

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Gmem.Issued).To(BeNumerically(">", uint64(0)))
		Expect(report.Gmem.Completed).To(Equal(report.Gmem.Issued))
	})

	It("drains global stores before finishing", func() {
		c, err := core.New(testConfig(1))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.LoadProgram(0, program(4, op.StoreGlobal, op.Exit))).
			To(Succeed())

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Gmem.Completed).To(Equal(report.Gmem.Issued))
		// Stores produce no register-file result.
		Expect(report.Writeback.Issued).To(Equal(uint64(0)))
	})

	It("counts structural stalls under a tiny execute queue", func() {
		cfg := testConfig(4)
		cfg.Timing.IntDiv.QueueCapacity = 1
		c, err := core.New(cfg)
		Expect(err).ToNot(HaveOccurred())
		for w := 0; w < 4; w++ {
			Expect(c.LoadProgram(w,
				program(4, op.IntDiv, op.IntDiv, op.Exit))).To(Succeed())
		}

		res := c.Run(runBound)
		Expect(res.TimedOut).To(BeFalse())

		report := c.Report()
		Expect(report.Stalls.Execute).To(BeNumerically(">", uint64(0)))
		Expect(report.Execute.Completed()).To(Equal(uint64(8)))
	})

	It("times out without failing", func() {
		c, err := core.New(testConfig(1))
		Expect(err).ToNot(HaveOccurred())
		classes := make([]op.Class, 0, 21)
		for i := 0; i < 20; i++ {
			classes = append(classes, op.IntDiv)
		}
		classes = append(classes, op.Exit)
		Expect(c.LoadProgram(0, program(4, classes...))).To(Succeed())
		rec := &logRecorder{}
		c.SetRecorder(rec)

		res := c.Run(10)
		Expect(res.TimedOut).To(BeTrue())
		Expect(res.Cycles).To(Equal(uint64(10)))
		Expect(c.Report().Cycles).To(Equal(uint64(10)))
		Expect(rec.lines).To(ContainElement(ContainSubstring("timed out")))
	})

	It("rejects an out-of-range warp program", func() {
		c, err := core.New(testConfig(2))
		Expect(err).ToNot(HaveOccurred())
		Expect(c.LoadProgram(5, nil)).ToNot(Succeed())
	})

	It("rejects an invalid configuration", func() {
		cfg := testConfig(1)
		cfg.NumWarps = 0
		cfg.Normalize()
		_, err := core.New(cfg)
		Expect(err).To(HaveOccurred())
	})
})
