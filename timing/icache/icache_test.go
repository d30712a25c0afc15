package icache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/icache"
)

func configWithHitRate(rate float64) icache.Config {
	cfg := icache.DefaultConfig()
	cfg.Policy.HitRate = rate
	return cfg
}

func drain(c *icache.Cache, until uint64) []icache.Completion {
	var all []icache.Completion
	for now := uint64(0); now <= until; now++ {
		all = append(all, c.Tick(now)...)
	}
	return all
}

var _ = Describe("Cache", func() {
	It("classifies every fetch as hit with rate 1", func() {
		c := icache.New(configWithHitRate(1.0))
		for i := 0; i < 10; i++ {
			_, rej := c.Fetch(uint64(i), 0, uint64(i)*64)
			Expect(rej).To(BeNil())
		}
		stats := c.Stats()
		Expect(stats.Hits).To(Equal(uint64(10)))
		Expect(stats.Misses).To(Equal(uint64(0)))
		Expect(stats.Hits + stats.Misses).To(Equal(stats.Issued))
	})

	It("classifies every fetch as miss with rate 0", func() {
		c := icache.New(configWithHitRate(0.0))
		for i := 0; i < 5; i++ {
			_, rej := c.Fetch(uint64(i), 0, uint64(i)*64)
			Expect(rej).To(BeNil())
		}
		stats := c.Stats()
		Expect(stats.Misses).To(Equal(uint64(5)))
		Expect(stats.Hits).To(Equal(uint64(0)))
	})

	It("completes everything it issues", func() {
		c := icache.New(configWithHitRate(0.5))
		for i := 0; i < 8; i++ {
			_, rej := c.Fetch(0, 0, uint64(i)*64)
			Expect(rej).To(BeNil())
		}
		drain(c, 1000)
		stats := c.Stats()
		Expect(stats.Completed).To(Equal(stats.Issued))
		Expect(c.Outstanding()).To(Equal(0))
	})

	It("makes misses slower than hits", func() {
		hitOnly := icache.New(configWithHitRate(1.0))
		missOnly := icache.New(configWithHitRate(0.0))

		hitFetch, rej := hitOnly.Fetch(0, 0, 0x100)
		Expect(rej).To(BeNil())
		missFetch, rej := missOnly.Fetch(0, 0, 0x100)
		Expect(rej).To(BeNil())
		Expect(missFetch.Ticket.ReadyAt()).To(
			BeNumerically(">", hitFetch.Ticket.ReadyAt()))
	})

	It("is deterministic for a fixed seed", func() {
		a := icache.New(configWithHitRate(0.5))
		b := icache.New(configWithHitRate(0.5))
		for i := 0; i < 64; i++ {
			addr := uint64(i) * 32
			fa, _ := a.Fetch(0, 0, addr)
			fb, _ := b.Fetch(0, 0, addr)
			Expect(fa.Hit).To(Equal(fb.Hit))
		}
	})

	It("changes classification with the seed", func() {
		cfgA := configWithHitRate(0.5)
		cfgB := configWithHitRate(0.5)
		cfgB.Policy.Seed = 0xDEAD
		a := icache.New(cfgA)
		b := icache.New(cfgB)

		diff := 0
		for i := 0; i < 256; i++ {
			addr := uint64(i) * 32
			fa, _ := a.Fetch(0, 0, addr)
			fb, _ := b.Fetch(0, 0, addr)
			if fa.Hit != fb.Hit {
				diff++
			}
		}
		Expect(diff).To(BeNumerically(">", 0))
	})

	It("rejects when the miss queue fills", func() {
		cfg := configWithHitRate(0.0)
		cfg.Miss.Server.QueueCapacity = 2
		c := icache.New(cfg)

		var sawReject bool
		for i := 0; i < 5; i++ {
			_, rej := c.Fetch(0, 0, uint64(i)*64)
			if rej != nil {
				Expect(rej.Reason).To(Equal(flow.QueueFull))
				sawReject = true
			}
		}
		Expect(sawReject).To(BeTrue())
		Expect(c.Stats().QueueFullRejects).To(BeNumerically(">", uint64(0)))
	})

	It("supports address-range classification", func() {
		cfg := configWithHitRate(0.0)
		cfg.Policy.HitRanges = []icache.AddrRange{{Lo: 0x1000, Hi: 0x2000}}
		c := icache.New(cfg)

		in, _ := c.Fetch(0, 0, 0x1800)
		out, _ := c.Fetch(0, 0, 0x3000)
		Expect(in.Hit).To(BeTrue())
		Expect(out.Hit).To(BeFalse())
	})

	It("validates its configuration", func() {
		cfg := icache.DefaultConfig()
		cfg.Policy.LineBytes = 0
		Expect(cfg.Validate()).To(HaveOccurred())

		cfg = icache.DefaultConfig()
		cfg.Policy.HitRate = 1.5
		Expect(cfg.Validate()).To(HaveOccurred())

		Expect(icache.DefaultConfig().Validate()).To(Succeed())
	})

	It("passes through when disabled", func() {
		cfg := configWithHitRate(1.0)
		cfg.Enabled = false
		c := icache.New(cfg)

		f, rej := c.Fetch(4, 1, 0x40)
		Expect(rej).To(BeNil())
		Expect(f.Ticket.ReadyAt()).To(Equal(uint64(4)))
		done := c.Tick(4)
		Expect(done).To(HaveLen(1))
		Expect(done[0].Warp).To(Equal(1))
	})
})
