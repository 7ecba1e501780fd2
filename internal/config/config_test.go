package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"learn-go/internal/config"
)

const sampleYAML = `
server:
  port: "9090"
  token: "abc"
metadata:
  driver: bolt
pipeline:
  chunk_size: 200
  dedup_scope: global
job:
  backoff_base: 500ms
`

func writeConfig(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	It("reads the file and fills in defaults", func() {
		cfg, err := config.Load(writeConfig(sampleYAML))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Server.Port).To(Equal("9090"))
		Expect(cfg.Server.Token).To(Equal("abc"))
		Expect(cfg.Metadata.Driver).To(Equal("bolt"))
		Expect(cfg.Pipeline.ChunkSize).To(Equal(200))
		Expect(cfg.Pipeline.DedupScope).To(Equal("global"))
		Expect(cfg.Job.BackoffBase).To(Equal(500 * time.Millisecond))

		Expect(cfg.Pipeline.ChunkOverlap).To(Equal(20))
		Expect(cfg.Pipeline.DedupThreshold).To(Equal(0.99))
		Expect(cfg.Pipeline.AuthorDeleteBatch).To(Equal(250))
		Expect(cfg.VectorIndex.Driver).To(Equal("elasticsearch"))
		Expect(cfg.Job.MaxAttempts).To(Equal(5))
		Expect(cfg.Embedding.Timeout).To(Equal(30 * time.Second))
	})

	It("lets environment variables override the file", func() {
		Expect(os.Setenv("LEARN_SERVER_PORT", "7070")).To(Succeed())
		DeferCleanup(os.Unsetenv, "LEARN_SERVER_PORT")

		cfg, err := config.Load(writeConfig(sampleYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal("7070"))
	})

	It("fails on a missing file", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("panics from Init on a missing file", func() {
		Expect(func() { config.Init("/nonexistent/config.yaml") }).To(Panic())
	})
})
