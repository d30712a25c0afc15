package execute_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hansungk/cyclotron/timing/execute"
	"github.com/hansungk/cyclotron/timing/flow"
)

var _ = Describe("Pipeline", func() {
	var pipeline *execute.Pipeline

	BeforeEach(func() {
		pipeline = execute.NewPipeline(execute.DefaultConfig())
	})

	It("issues to every unit class independently", func() {
		for _, kind := range execute.Kinds() {
			issued, rej := pipeline.Issue(0, kind, 0, 16)
			Expect(rej).To(BeNil())
			Expect(issued.Kind).To(Equal(kind))
			Expect(issued.Ticket.ReadyAt()).To(BeNumerically(">", uint64(0)))
		}
		Expect(pipeline.Stats().Issued()).To(Equal(uint64(5)))
	})

	It("charges latency per unit class", func() {
		alu, rej := pipeline.Issue(0, execute.Int, 0, 16)
		Expect(rej).To(BeNil())
		div, rej := pipeline.Issue(0, execute.IntDiv, 1, 16)
		Expect(rej).To(BeNil())
		Expect(div.Ticket.ReadyAt()).To(BeNumerically(">", alu.Ticket.ReadyAt()))
	})

	It("rejects with Busy when a unit already started this cycle", func() {
		_, rej := pipeline.Issue(0, execute.Int, 0, 8)
		Expect(rej).To(BeNil())
		_, rej = pipeline.Issue(0, execute.Int, 1, 8)
		Expect(rej).NotTo(BeNil())
		Expect(rej.Reason).To(Equal(flow.Busy))
		Expect(pipeline.Stats().Unit(execute.Int).BusyRejects).To(Equal(uint64(1)))
	})

	It("rejects when a unit queue fills", func() {
		var lastRej *flow.Reject
		// Divide holds requests for many cycles, so issuing one per
		// cycle fills its two-entry queue.
		for now := uint64(0); now < 5; now++ {
			_, rej := pipeline.Issue(now, execute.IntDiv, int(now), 8)
			if rej != nil {
				lastRej = rej
			}
		}
		Expect(lastRej).NotTo(BeNil())
		Expect(lastRej.Reason).To(Equal(flow.QueueFull))
		Expect(lastRej.RetryAt).To(BeNumerically(">", uint64(0)))
		Expect(pipeline.Stats().Unit(execute.IntDiv).QueueFullRejects).To(
			BeNumerically(">", uint64(0)))
	})

	It("keeps classes isolated under pressure", func() {
		for now := uint64(0); now < 5; now++ {
			pipeline.Issue(now, execute.IntDiv, int(now), 8)
		}
		_, rej := pipeline.Issue(4, execute.Int, 0, 8)
		Expect(rej).To(BeNil())
	})

	It("completes in issue order within a class", func() {
		pipeline.Issue(0, execute.Int, 3, 4)
		pipeline.Issue(1, execute.Int, 7, 4)

		var warps []int
		for now := uint64(0); now < 20; now++ {
			for _, done := range pipeline.Tick(now) {
				warps = append(warps, done.Warp)
			}
		}
		Expect(warps).To(Equal([]int{3, 7}))
		Expect(pipeline.Stats().Completed()).To(Equal(uint64(2)))
		Expect(pipeline.Outstanding()).To(Equal(0))
	})

	It("reports busy state for a saturated unit", func() {
		// The ALU completes nothing because Tick is never called, so
		// one issue per cycle fills its four-entry queue.
		for now := uint64(0); now < 4; now++ {
			_, rej := pipeline.Issue(now, execute.Int, int(now), 16)
			Expect(rej).To(BeNil())
		}
		Expect(pipeline.Busy(execute.Int, 4)).To(BeTrue())
		Expect(pipeline.Busy(execute.Fp, 4)).To(BeFalse())
	})

	It("treats zero active lanes as one", func() {
		issued, rej := pipeline.Issue(0, execute.Int, 0, 0)
		Expect(rej).To(BeNil())
		Expect(issued.Ticket.SizeBytes()).To(Equal(uint32(1)))
	})

	It("passes through when disabled", func() {
		cfg := execute.DefaultConfig()
		cfg.Enabled = false
		p := execute.NewPipeline(cfg)

		issued, rej := p.Issue(9, execute.Sfu, 2, 8)
		Expect(rej).To(BeNil())
		Expect(issued.Ticket.ReadyAt()).To(Equal(uint64(9)))
		Expect(p.Stats().Issued()).To(Equal(p.Stats().Completed()))
	})
})
