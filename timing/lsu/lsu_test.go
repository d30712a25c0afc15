package lsu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/lsu"
)

func request(kind lsu.QueueKind, warp int) lsu.Request {
	return lsu.Request{
		Warp:        warp,
		Kind:        kind,
		Addr:        0x1000 + uint64(warp)*64,
		Bytes:       32,
		ActiveLanes: 8,
	}
}

func runUntil(l *lsu.LSU, from, to uint64) []lsu.Dispatch {
	var all []lsu.Dispatch
	for now := from; now <= to; now++ {
		l.Tick(now)
		all = append(all, l.ConsumeDispatches()...)
	}
	return all
}

var _ = Describe("LSU", func() {
	It("dispatches an admitted request", func() {
		l := lsu.New(lsu.DefaultConfig())
		_, rej := l.Enqueue(0, request(lsu.GlobalLoad, 0))
		Expect(rej).To(BeNil())

		dispatched := runUntil(l, 0, 20)
		Expect(dispatched).To(HaveLen(1))
		Expect(dispatched[0].Request.Kind).To(Equal(lsu.GlobalLoad))
		Expect(l.Stats().Completed).To(Equal(uint64(1)))
	})

	It("tracks per-queue issue counts", func() {
		l := lsu.New(lsu.DefaultConfig())
		for _, kind := range lsu.Kinds() {
			_, rej := l.Enqueue(0, request(kind, int(kind)))
			Expect(rej).To(BeNil())
		}
		stats := l.Stats()
		for _, kind := range lsu.Kinds() {
			Expect(stats.Queue(kind).Issued).To(Equal(uint64(1)))
		}
		Expect(stats.Issued).To(Equal(uint64(4)))
	})

	It("prioritizes shared over global traffic at the issue port", func() {
		l := lsu.New(lsu.DefaultConfig())
		// Enqueue the global request first; the shared one must still
		// clear the single issue port first.
		_, rej := l.Enqueue(0, request(lsu.GlobalLoad, 0))
		Expect(rej).To(BeNil())
		_, rej = l.Enqueue(0, request(lsu.SharedLoad, 1))
		Expect(rej).To(BeNil())

		dispatched := runUntil(l, 0, 20)
		Expect(dispatched).To(HaveLen(2))
		Expect(dispatched[0].Request.Kind).To(Equal(lsu.SharedLoad))
		Expect(dispatched[1].Request.Kind).To(Equal(lsu.GlobalLoad))
	})

	It("rejects only the shrunken queue", func() {
		cfg := lsu.DefaultConfig()
		cfg.SharedStore.QueueCapacity = 2
		l := lsu.New(cfg)

		// Flood every queue with the same offered load.
		for i := 0; i < 4; i++ {
			for _, kind := range lsu.Kinds() {
				l.Enqueue(0, request(kind, i))
			}
		}

		stats := l.Stats()
		Expect(stats.Queue(lsu.SharedStore).QueueFullRejects).To(
			BeNumerically(">", uint64(0)))
		Expect(stats.Queue(lsu.SharedLoad).QueueFullRejects).To(Equal(uint64(0)))
		Expect(stats.Queue(lsu.GlobalLoad).QueueFullRejects).To(Equal(uint64(0)))
		Expect(stats.Queue(lsu.GlobalStore).QueueFullRejects).To(Equal(uint64(0)))
	})

	It("reports which queue rejected", func() {
		cfg := lsu.DefaultConfig()
		cfg.GlobalStore.QueueCapacity = 1
		l := lsu.New(cfg)

		_, rej := l.Enqueue(0, request(lsu.GlobalStore, 0))
		Expect(rej).To(BeNil())
		_, rej = l.Enqueue(0, request(lsu.GlobalStore, 1))
		Expect(rej).NotTo(BeNil())
		Expect(rej.Reason).To(Equal(flow.QueueFull))
		Expect(rej.RetryAt).To(BeNumerically(">", uint64(0)))
	})

	It("caps in-flight work with the resource file", func() {
		cfg := lsu.DefaultConfig()
		cfg.Resources.Address = 2
		cfg.GlobalLoad.QueueCapacity = 16
		l := lsu.New(cfg)

		_, rej := l.Enqueue(0, request(lsu.GlobalLoad, 0))
		Expect(rej).To(BeNil())
		_, rej = l.Enqueue(0, request(lsu.GlobalLoad, 1))
		Expect(rej).To(BeNil())
		_, rej = l.Enqueue(0, request(lsu.GlobalLoad, 2))
		Expect(rej).NotTo(BeNil())
		Expect(rej.Reason).To(Equal(flow.QueueFull))

		l.Release(lsu.GlobalLoad)
		_, rej = l.Enqueue(1, request(lsu.GlobalLoad, 2))
		Expect(rej).To(BeNil())
	})

	It("conserves requests end to end", func() {
		l := lsu.New(lsu.DefaultConfig())
		admitted := 0
		for i := 0; i < 6; i++ {
			if _, rej := l.Enqueue(uint64(i), request(lsu.GlobalLoad, i)); rej == nil {
				admitted++
			}
		}
		dispatched := runUntil(l, 0, 60)
		Expect(dispatched).To(HaveLen(admitted))
		Expect(l.Outstanding()).To(Equal(0))
	})

	It("passes through when disabled", func() {
		cfg := lsu.DefaultConfig()
		cfg.Enabled = false
		l := lsu.New(cfg)

		_, rej := l.Enqueue(3, request(lsu.SharedLoad, 0))
		Expect(rej).To(BeNil())
		l.Tick(3)
		Expect(l.ConsumeDispatches()).To(HaveLen(1))
	})

	It("validates its configuration", func() {
		cfg := lsu.DefaultConfig()
		cfg.Issue.QueueCapacity = 0
		Expect(cfg.Validate()).To(HaveOccurred())

		cfg = lsu.DefaultConfig()
		cfg.Resources.LoadData = 0
		Expect(cfg.Validate()).To(HaveOccurred())

		Expect(lsu.DefaultConfig().Validate()).To(Succeed())
	})
})
