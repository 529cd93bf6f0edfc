package env

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/multierr"

	"github.com/luma/lantern/protocol"
)

var _ = Describe("env / Config", func() {
	load := func(vars map[string]string) (*Config, error) {
		return loadConfig(context.Background(), envconfig.MapLookuper(vars))
	}

	It("falls back to the protocol defaults", func() {
		config, err := load(map[string]string{})
		Expect(err).To(Succeed())

		Expect(config.MaxFrameSize).To(Equal(protocol.DefaultMaxFrameSize))
		Expect(config.MaxDepth).To(Equal(protocol.DefaultMaxDepth))
		Expect(config.ReadBufferSize).To(Equal(protocol.DefaultReadSize))
		Expect(config.MaxConns).To(Equal(10000))
		Expect(config.IdleTimeout).To(BeZero())
		Expect(config.Trace).To(BeFalse())
	})

	It("reads settings from the environment", func() {
		config, err := load(map[string]string{
			"LANTERN_REGION":         "ap-southeast-2",
			"LANTERN_TRACE":          "true",
			"LANTERN_MAX_FRAME_SIZE": "1024",
			"LANTERN_IDLE_TIMEOUT":   "30s",
		})
		Expect(err).To(Succeed())

		Expect(config.Region).To(Equal("ap-southeast-2"))
		Expect(config.Trace).To(BeTrue())
		Expect(config.MaxFrameSize).To(Equal(1024))
		Expect(config.IdleTimeout).To(Equal(30 * time.Second))
		Expect(config.Codec().MaxFrameSize()).To(Equal(1024))
	})

	It("reports every invalid setting", func() {
		_, err := load(map[string]string{
			"LANTERN_MAX_FRAME_SIZE": "0",
			"LANTERN_MAX_DEPTH":      "-1",
		})
		Expect(err).To(HaveOccurred())
		Expect(multierr.Errors(err)).To(HaveLen(2))
	})

	It("rejects values that do not parse", func() {
		_, err := load(map[string]string{"LANTERN_MAX_CONNS": "lots"})
		Expect(err).To(HaveOccurred())
	})
})
