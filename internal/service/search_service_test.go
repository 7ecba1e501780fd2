package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"learn-go/internal/config"
	"learn-go/internal/model"
	"learn-go/internal/pipeline"
	"learn-go/internal/repository"
	"learn-go/internal/service"
	"learn-go/pkg/database"
	"learn-go/pkg/embedding/embeddingtest"
	"learn-go/pkg/tokenizer"
	"learn-go/pkg/vectorindex"
)

var _ = Describe("Retrieval and deletion", func() {
	var (
		ctx       context.Context
		embedder  *embeddingtest.Fake
		index     *vectorindex.MemoryIndex
		repo      repository.VectorMetadataRepository
		processor *pipeline.Processor
		search    service.SearchService
		vectors   service.VectorService
	)

	BeforeEach(func() {
		ctx = context.Background()
		embedder = &embeddingtest.Fake{}
		index = vectorindex.NewMemoryIndex(embeddingtest.Dims)

		db, err := database.OpenBolt(GinkgoT().TempDir() + "/metadata.db")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
		repo, err = repository.NewBoltVectorMetadataRepository(db)
		Expect(err).NotTo(HaveOccurred())

		chunker, err := pipeline.NewChunker(1000, 0, tokenizer.Runes)
		Expect(err).NotTo(HaveOccurred())
		processor = pipeline.NewProcessor(chunker, embedder, index, repo, nil, nil,
			config.PipelineConfig{DedupThreshold: 0.99, DedupScope: pipeline.DedupScopeNamespace, IndexTimeout: time.Second},
			config.EmbeddingConfig{Timeout: time.Second})
		search = service.NewSearchService(embedder, index, time.Second)
		vectors = service.NewVectorService(&recordingQueue{}, nil, repo, index, 250, time.Second)
	})

	It("ingests, retrieves and deletes by author end to end", func() {
		n, err := processor.Upsert(ctx, "A. B. C.", "alice", "default")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		rows, err := repo.Find(ctx, model.VectorMetadataFilter{CreatedBy: "alice"})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))

		hits := search.Search(ctx, "A", 1, "default")
		Expect(hits).To(HaveLen(1))
		Expect(hits[0].Text).To(Equal("A. B. C."))
		Expect(hits[0].ID).To(Equal(pipeline.ContentID("A. B. C.")))

		Expect(vectors.DeleteByAuthor(ctx, []string{"alice"})).To(Succeed())
		Expect(search.Search(ctx, "A", 1, "default")).To(BeEmpty())
		rows, err = repo.Find(ctx, model.VectorMetadataFilter{CreatedBy: "alice"})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(BeEmpty())
	})

	It("removes deleted ids from subsequent searches", func() {
		_, err := processor.Upsert(ctx, "the cat sat on the mat", "alice", "pets")
		Expect(err).NotTo(HaveOccurred())
		_, err = processor.Upsert(ctx, "dogs bark loudly at night", "alice", "pets")
		Expect(err).NotTo(HaveOccurred())

		catID := pipeline.ContentID("the cat sat on the mat")
		Expect(vectors.Delete(ctx, "pets", []string{catID})).To(Succeed())

		for _, h := range search.Search(ctx, "cat", 5, "pets") {
			Expect(h.ID).NotTo(Equal(catID))
		}
	})

	It("deletes by author only inside the namespaces the author wrote to", func() {
		_, err := processor.Upsert(ctx, "shared text", "alice", "a")
		Expect(err).NotTo(HaveOccurred())
		_, err = processor.Upsert(ctx, "shared text", "bob", "b")
		Expect(err).NotTo(HaveOccurred())

		Expect(vectors.DeleteByAuthor(ctx, []string{"alice"})).To(Succeed())
		Expect(search.Search(ctx, "shared text", 1, "a")).To(BeEmpty())
		hits := search.Search(ctx, "shared text", 1, "b")
		Expect(hits).To(HaveLen(1))
		Expect(hits[0].Namespace).To(Equal("b"))

		rows, err := repo.Find(ctx, model.VectorMetadataFilter{CreatedBy: "bob"})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
	})

	It("bounds deletes by the store timeout", func() {
		hanging := service.NewVectorService(&recordingQueue{}, nil, repo, blockingIndex{}, 250, 50*time.Millisecond)
		started := time.Now()
		err := hanging.Delete(ctx, "default", []string{"x"})
		Expect(time.Since(started)).To(BeNumerically("<", time.Second))
		Expect(err).To(MatchError(ContainSubstring("删除向量失败")))
	})

	It("treats deleting an author without rows as a no-op", func() {
		Expect(vectors.DeleteByAuthor(ctx, []string{"nobody"})).To(Succeed())
	})

	Describe("degradation", func() {
		It("returns empty for k <= 0, a blank query or an unknown namespace", func() {
			Expect(search.Search(ctx, "", 3, "x")).To(BeEmpty())
			Expect(search.Search(ctx, "A", 0, "x")).To(BeEmpty())
			Expect(search.Search(ctx, "A", 3, "x")).NotTo(BeNil())
			Expect(search.Search(ctx, "A", 3, "x")).To(BeEmpty())
		})

		It("swallows embedding failures", func() {
			embedder.Err = errors.New("timeout")
			Expect(search.Search(ctx, "A", 3, "default")).To(BeEmpty())
		})

		It("swallows index failures", func() {
			s := service.NewSearchService(embedder, failingIndex{Index: index}, time.Second)
			Expect(s.Search(ctx, "A", 3, "default")).To(BeEmpty())
		})
	})

	It("reports a failed index deletion after deleting metadata", func() {
		_, err := processor.Upsert(ctx, "A. B. C.", "alice", "default")
		Expect(err).NotTo(HaveOccurred())

		broken := service.NewVectorService(&recordingQueue{}, nil, repo, failingIndex{Index: index}, 250, time.Second)
		err = broken.Delete(ctx, "default", []string{pipeline.ContentID("A. B. C.")})
		Expect(err).To(MatchError(ContainSubstring("删除向量失败")))

		rows, _ := repo.Find(ctx, model.VectorMetadataFilter{})
		Expect(rows).To(BeEmpty())
		Expect(index.Len()).To(Equal(1))
	})
})

var _ = Describe("BuildContext", func() {
	It("numbers hits and strips newlines", func() {
		ctx := service.BuildContext([]vectorindex.Hit{
			{Text: "first\nline"},
			{Text: "second"},
		})
		Expect(ctx).To(Equal("C1: <firstline>\nC2: <second>"))
	})

	It("is empty without hits", func() {
		Expect(service.BuildContext(nil)).To(BeEmpty())
	})
})
