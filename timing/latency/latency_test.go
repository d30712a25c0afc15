package latency_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hansungk/cyclotron/op"
	"github.com/hansungk/cyclotron/timing/execute"
	"github.com/hansungk/cyclotron/timing/flow"
	"github.com/hansungk/cyclotron/timing/latency"
)

var _ = Describe("Latency", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	Describe("Default Timing Values", func() {
		It("should have single-cycle integer ALU latency", func() {
			Expect(table.BaseLatency(op.Int)).To(Equal(flow.Cycle(1)))
		})

		It("should have correct multiply latency", func() {
			Expect(table.BaseLatency(op.IntMul)).To(Equal(flow.Cycle(3)))
		})

		It("should have correct divide latency", func() {
			Expect(table.BaseLatency(op.IntDiv)).To(Equal(flow.Cycle(16)))
		})

		It("should have correct floating-point latency", func() {
			Expect(table.BaseLatency(op.Fp)).To(Equal(flow.Cycle(4)))
		})

		It("should have correct SFU latency", func() {
			Expect(table.BaseLatency(op.Sfu)).To(Equal(flow.Cycle(8)))
		})
	})

	Describe("Unit Mapping", func() {
		It("should map execute classes to units", func() {
			kind, ok := table.UnitFor(op.IntMul)
			Expect(ok).To(BeTrue())
			Expect(kind).To(Equal(execute.IntMul))
		})

		It("should not map memory classes to units", func() {
			_, ok := table.UnitFor(op.LoadGlobal)
			Expect(ok).To(BeFalse())
		})

		It("should not map barrier or exit to units", func() {
			_, ok := table.UnitFor(op.Barrier)
			Expect(ok).To(BeFalse())
			_, ok = table.UnitFor(op.Exit)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("ExecuteConfig", func() {
		It("should carry the table timings into the pipeline config", func() {
			cfg := table.ExecuteConfig()
			Expect(cfg.Enabled).To(BeTrue())
			Expect(cfg.IntDiv.BaseLatency).To(Equal(flow.Cycle(16)))
			Expect(cfg.Sfu.QueueCapacity).To(Equal(2))
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("Custom Configuration", func() {
		It("should use custom timing values", func() {
			config := latency.DefaultTimingConfig()
			config.Fp.BaseLatency = 6
			table = latency.NewTableWithConfig(config)
			Expect(table.BaseLatency(op.Fp)).To(Equal(flow.Cycle(6)))
		})

		It("should clone without aliasing", func() {
			config := latency.DefaultTimingConfig()
			clone := config.Clone()
			clone.Int.BaseLatency = 9
			Expect(config.Int.BaseLatency).To(Equal(flow.Cycle(1)))
		})
	})

	Describe("Config File Round Trip", func() {
		It("should save and reload a configuration", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "timing.json")

			config := latency.DefaultTimingConfig()
			config.IntDiv.BaseLatency = 20
			Expect(config.SaveConfig(path)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.IntDiv.BaseLatency).To(Equal(flow.Cycle(20)))
			Expect(loaded.Int.BaseLatency).To(Equal(flow.Cycle(1)))
		})

		It("should keep defaults for fields absent from the file", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "timing.json")
			data := []byte(`{"sfu": {"base_latency": 12, "bytes_per_cycle": 16,
				"queue_capacity": 2, "completions_per_cycle": 1}}`)
			Expect(os.WriteFile(path, data, 0644)).To(Succeed())

			loaded, err := latency.LoadConfig(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(loaded.Sfu.BaseLatency).To(Equal(flow.Cycle(12)))
			Expect(loaded.Fp.BaseLatency).To(Equal(flow.Cycle(4)))
		})

		It("should fail on a missing file", func() {
			_, err := latency.LoadConfig("/nonexistent/timing.json")
			Expect(err).To(HaveOccurred())
		})

		It("should fail validation on a zero queue capacity", func() {
			config := latency.DefaultTimingConfig()
			config.IntMul.QueueCapacity = 0
			Expect(config.Validate()).ToNot(Succeed())
		})
	})
})
