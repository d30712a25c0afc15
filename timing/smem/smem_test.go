package smem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/smem"
)

func runCycles(s *smem.Smem, from, to uint64) []smem.Completion {
	var all []smem.Completion
	for now := from; now <= to; now++ {
		s.Tick(now)
		all = append(all, s.ConsumeCompletions()...)
	}
	return all
}

var _ = Describe("Smem", func() {
	It("completes a request end to end", func() {
		s := smem.New(smem.DefaultConfig())
		req := smem.NewRequest(0, 32, 0xF, false, 0)
		issue, rej := s.Issue(0, req)
		Expect(rej).To(BeNil())
		Expect(issue.Ticket.ReadyAt()).To(BeNumerically(">", uint64(0)))

		done := runCycles(s, 0, 100)
		Expect(done).To(HaveLen(1))
		Expect(done[0].Request.Warp).To(Equal(0))
	})

	It("tracks issue and completion statistics", func() {
		s := smem.New(smem.DefaultConfig())
		s.Issue(0, smem.NewRequest(0, 32, 0xF, false, 0))
		runCycles(s, 0, 100)

		stats := s.Stats()
		Expect(stats.Issued).To(Equal(uint64(1)))
		Expect(stats.Completed).To(Equal(uint64(1)))
		Expect(stats.BytesIssued).To(Equal(uint64(32)))
		Expect(stats.BytesCompleted).To(Equal(uint64(32)))
		Expect(stats.ReadIssued).To(Equal(uint64(1)))
		Expect(stats.WriteIssued).To(Equal(uint64(0)))
	})

	It("splits reads and writes in the counters", func() {
		s := smem.New(smem.DefaultConfig())
		s.Issue(0, smem.NewRequest(0, 16, 0x1, false, 0))
		s.Issue(0, smem.NewRequest(1, 16, 0x1, true, 1))
		runCycles(s, 0, 100)

		stats := s.Stats()
		Expect(stats.ReadCompleted).To(Equal(uint64(1)))
		Expect(stats.WriteCompleted).To(Equal(uint64(1)))
	})

	It("reports backpressure when the lane queue fills", func() {
		cfg := smem.DefaultConfig()
		cfg.NumLanes = 1
		cfg.Lane.QueueCapacity = 1
		cfg.Crossbar.QueueCapacity = 1
		cfg.Bank.QueueCapacity = 1
		s := smem.New(cfg)

		_, rej := s.Issue(0, smem.NewRequest(0, 32, 0xF, false, 0))
		Expect(rej).To(BeNil())
		_, rej = s.Issue(0, smem.NewRequest(0, 32, 0xF, false, 0))
		Expect(rej).NotTo(BeNil())
		Expect(rej.Reason).To(Equal(flow.QueueFull))
		Expect(s.Stats().QueueFullRejects).To(Equal(uint64(1)))
	})

	It("serializes cross-core traffic through the serial stage", func() {
		cfg := smem.DefaultConfig()
		cfg.SerializeCores = true
		cfg.Serial.QueueCapacity = 1
		cfg.NumLanes = 1
		cfg.NumBanks = 1
		cfg.NumSubbanks = 1
		s := smem.New(cfg)

		_, rej := s.Issue(0, smem.NewRequest(0, 16, 0x1, false, 0))
		Expect(rej).To(BeNil())

		// Walk the first request into the serial stage, then the gate
		// must turn the next one away.
		s.Tick(0)
		s.Tick(1)
		s.Tick(2)
		var rejected bool
		for now := uint64(3); now < 6; now++ {
			if _, rej := s.Issue(now, smem.NewRequest(1, 16, 0x1, false, 0)); rej != nil {
				Expect(rej.Reason).To(Equal(flow.QueueFull))
				rejected = true
				break
			}
			s.Tick(now)
		}
		// Either the gate rejected, or the pipeline already drained the
		// first request; in a 1-capacity serial stage with pending
		// traffic the gate must have fired at least once overall.
		if !rejected {
			Expect(s.Outstanding()).To(BeNumerically(">=", 1))
		}
	})

	It("serializes two requests on the same subbank", func() {
		cfg := smem.DefaultConfig()
		cfg.NumLanes = 1
		cfg.NumBanks = 1
		cfg.NumSubbanks = 2
		cfg.Subbank.BaseLatency = 1
		cfg.Bank.BaseLatency = 0
		s := smem.New(cfg)

		req0 := smem.NewRequest(0, 16, 0x1, false, 0)
		req1 := smem.NewRequest(1, 16, 0x1, false, 0)
		_, rej := s.Issue(0, req0)
		Expect(rej).To(BeNil())
		_, rej = s.Issue(0, req1)
		Expect(rej).To(BeNil())

		done := runCycles(s, 0, 40)
		Expect(done).To(HaveLen(2))
		Expect(done[1].CompletedAt).To(BeNumerically(">", done[0].CompletedAt))
	})

	It("strongly serializes many warps on one bank", func() {
		cfg := smem.DefaultConfig()
		cfg.NumLanes = 16
		cfg.NumBanks = 1
		cfg.NumSubbanks = 1
		cfg.Lane.BaseLatency = 0
		cfg.Crossbar.BaseLatency = 0
		cfg.Crossbar.BytesPerCycle = 1024
		cfg.Subbank.BaseLatency = 0
		cfg.Bank.BaseLatency = 1
		cfg.Bank.QueueCapacity = 32
		s := smem.New(cfg)

		for warp := 0; warp < 16; warp++ {
			_, rej := s.Issue(0, smem.NewRequest(warp, 16, 0x1, false, 0))
			Expect(rej).To(BeNil())
		}

		done := runCycles(s, 0, 200)
		Expect(done).To(HaveLen(16))
		first := done[0].CompletedAt
		last := done[len(done)-1].CompletedAt
		Expect(last - first).To(BeNumerically(">=", uint64(15)))
	})

	It("runs distinct banks near-parallel", func() {
		cfg := smem.DefaultConfig()
		cfg.NumLanes = 16
		cfg.NumBanks = 16
		cfg.NumSubbanks = 1
		cfg.Lane.BaseLatency = 0
		cfg.Crossbar.BaseLatency = 0
		cfg.Crossbar.BytesPerCycle = 1024
		cfg.Subbank.BaseLatency = 0
		cfg.Bank.BaseLatency = 1
		s := smem.New(cfg)

		for warp := 0; warp < 16; warp++ {
			_, rej := s.Issue(0, smem.NewRequest(warp, 16, 0x1, false, warp))
			Expect(rej).To(BeNil())
		}

		done := runCycles(s, 0, 40)
		Expect(done).To(HaveLen(16))
		var min, max uint64 = done[0].CompletedAt, done[0].CompletedAt
		for _, d := range done {
			if d.CompletedAt < min {
				min = d.CompletedAt
			}
			if d.CompletedAt > max {
				max = d.CompletedAt
			}
		}
		Expect(max - min).To(BeNumerically("<=", uint64(2)))
	})

	It("finishes dual-port traffic no later than single-port", func() {
		run := func(dualPort bool) uint64 {
			cfg := smem.DefaultConfig()
			cfg.DualPort = dualPort
			cfg.NumLanes = 1
			cfg.NumBanks = 1
			cfg.NumSubbanks = 1
			cfg.Bank.BaseLatency = 1
			cfg.Bank.BytesPerCycle = 4
			cfg.Bank.QueueCapacity = 8
			s := smem.New(cfg)

			for i := 0; i < 4; i++ {
				_, rej := s.Issue(0, smem.NewRequest(0, 16, 0x1, i%2 == 1, 0))
				Expect(rej).To(BeNil())
			}
			done := runCycles(s, 0, 200)
			Expect(done).To(HaveLen(4))
			last := uint64(0)
			for _, d := range done {
				if d.CompletedAt > last {
					last = d.CompletedAt
				}
			}
			return last
		}

		single := run(false)
		dual := run(true)
		Expect(dual).To(BeNumerically("<=", single))
	})

	It("doubles the sampled bank capacity with dual ports", func() {
		sample := func(dualPort bool) uint64 {
			cfg := smem.DefaultConfig()
			cfg.DualPort = dualPort
			s := smem.New(cfg)
			for i := 0; i < 10; i++ {
				s.SampleUtilization()
			}
			return s.Stats().Util.BankTotal
		}
		Expect(sample(true)).To(Equal(2 * sample(false)))
	})

	It("passes through when disabled", func() {
		cfg := smem.DefaultConfig()
		cfg.Enabled = false
		s := smem.New(cfg)

		_, rej := s.Issue(7, smem.NewRequest(0, 32, 0xF, false, 0))
		Expect(rej).To(BeNil())
		s.Tick(7)
		Expect(s.ConsumeCompletions()).To(HaveLen(1))
		Expect(s.Stats().Completed).To(Equal(uint64(1)))
	})
})

var _ = Describe("Split", func() {
	cfg := func() smem.Config {
		c := smem.DefaultConfig()
		c.NumBanks = 4
		c.NumSubbanks = 2
		c.WordBytes = 4
		return c
	}

	It("groups lanes by bank and subbank", func() {
		c := cfg()
		req := smem.Request{
			Warp:        0,
			Bytes:       16,
			ActiveLanes: 4,
			// Words 0..3 map to banks 0..3.
			LaneAddrs: []uint64{0, 4, 8, 12},
		}
		children := c.Split(req)
		Expect(children).To(HaveLen(4))
		for _, child := range children {
			Expect(child.ActiveLanes).To(Equal(uint32(1)))
			Expect(child.Bytes).To(Equal(uint32(4)))
			Expect(child.LaneAddrs).To(BeNil())
		}
	})

	It("collapses same-bank lanes into one child", func() {
		c := cfg()
		req := smem.Request{
			Warp:        0,
			Bytes:       16,
			ActiveLanes: 4,
			// All words map to bank 0, subbank 0 (word%4==0, word/4%2==0).
			LaneAddrs: []uint64{0, 32, 64, 96},
		}
		children := c.Split(req)
		Expect(children).To(HaveLen(1))
		Expect(children[0].ActiveLanes).To(Equal(uint32(4)))
		Expect(children[0].Bytes).To(Equal(uint32(16)))
	})

	It("maps scalar requests by address", func() {
		c := cfg()
		req := smem.Request{Warp: 0, Addr: 4, Bytes: 4, ActiveLanes: 1}
		children := c.Split(req)
		Expect(children).To(HaveLen(1))
		Expect(children[0].Bank).To(Equal(1))
	})
})

var _ = Describe("ConflictOf", func() {
	cfg := func() smem.Config {
		c := smem.DefaultConfig()
		c.NumBanks = 4
		c.NumSubbanks = 2
		c.WordBytes = 4
		return c
	}

	It("sees no conflict when banks are distinct", func() {
		c := cfg()
		sample := c.ConflictOf(smem.Request{
			ActiveLanes: 4,
			LaneAddrs:   []uint64{0, 4, 8, 12},
		})
		Expect(sample.UniqueBanks).To(Equal(uint32(4)))
		Expect(sample.ConflictLanes).To(Equal(uint32(0)))
	})

	It("counts serialized lanes on a shared bank", func() {
		c := cfg()
		sample := c.ConflictOf(smem.Request{
			ActiveLanes: 4,
			LaneAddrs:   []uint64{0, 16, 32, 48},
		})
		Expect(sample.UniqueBanks).To(Equal(uint32(1)))
		Expect(sample.ConflictLanes).To(Equal(uint32(3)))
		Expect(sample.ActiveLanes).To(Equal(uint32(4)))
	})

	It("treats scalar requests as single-bank", func() {
		c := cfg()
		sample := c.ConflictOf(smem.Request{ActiveLanes: 3})
		Expect(sample.UniqueBanks).To(Equal(uint32(1)))
		Expect(sample.ConflictLanes).To(Equal(uint32(2)))
	})
})
