package es_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"learn-go/internal/config"
	"learn-go/pkg/es"
	"learn-go/pkg/vectorindex"
)

// fakeES 模拟 Elasticsearch 的索引、bulk、knn 检索与 delete_by_query 接口。
type fakeES struct {
	mu          sync.Mutex
	indexExists bool
	created     string
	bulkIDs     []string
	rejectID    string
	searchBody  map[string]interface{}
	deleteBody  map[string]interface{}
	searchFail  bool
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.Method == http.MethodHead && r.URL.Path == "/knowledge":
		if f.indexExists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && r.URL.Path == "/knowledge":
		f.created = string(body)
		f.indexExists = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.HasSuffix(r.URL.Path, "/_bulk"):
		f.writeBulk(w, body)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.Unmarshal(body, &f.searchBody)
		if f.searchFail {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_score":0.97,"_source":{"id":"a","text":"alpha","namespace":"default"}},
			{"_score":0.61,"_source":{"id":"b","text":"beta","namespace":"default"}}]}}`))
	case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
		_ = json.Unmarshal(body, &f.deleteBody)
		_, _ = w.Write([]byte(`{"deleted":1}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeES) writeBulk(w http.ResponseWriter, body []byte) {
	type item struct {
		ID     string      `json:"_id"`
		Status int         `json:"status"`
		Error  interface{} `json:"error,omitempty"`
	}
	var items []map[string]item
	hasErr := false
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line%2 == 0 {
			continue
		}
		var action map[string]map[string]string
		_ = json.Unmarshal(scanner.Bytes(), &action)
		id := action["index"]["_id"]
		f.bulkIDs = append(f.bulkIDs, id)
		if id == f.rejectID {
			hasErr = true
			items = append(items, map[string]item{"index": {ID: id, Status: 400, Error: map[string]string{"type": "mapper_parsing_exception", "reason": "bad"}}})
			continue
		}
		items = append(items, map[string]item{"index": {ID: id, Status: 201}})
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": hasErr, "items": items})
}

var _ = Describe("Index", func() {
	var (
		ctx    context.Context
		fake   *fakeES
		server *httptest.Server
		index  *es.Index
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = &fakeES{}
		server = httptest.NewServer(fake)
		var err error
		index, err = es.NewIndex(ctx, config.ElasticsearchConfig{Addresses: server.URL, IndexName: "knowledge", Dims: 3})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("creates the index with a cosine dense_vector mapping", func() {
		Expect(fake.created).To(ContainSubstring(`"dense_vector"`))
		Expect(fake.created).To(ContainSubstring(`"similarity": "cosine"`))
		Expect(fake.created).To(ContainSubstring(`"dims": 3`))
	})

	It("reports per-item bulk failures", func() {
		fake.rejectID = "default/b"
		res, err := index.Upsert(ctx, []vectorindex.Record{
			{ID: "a", Text: "alpha", Namespace: "default", Embedding: []float32{1, 0, 0}},
			{ID: "b", Text: "beta", Namespace: "default", Embedding: []float32{0, 1, 0}},
			{ID: "c", Text: "bad dims", Namespace: "default", Embedding: []float32{1}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Accepted).To(Equal([]string{"a"}))
		Expect(res.Rejected).To(HaveKey("b"))
		Expect(res.Rejected).To(HaveKey("c"))
		Expect(fake.bulkIDs).To(Equal([]string{"default/a", "default/b"}))
	})

	It("runs a namespace-filtered knn search and keeps the native order", func() {
		hits, err := index.Search(ctx, []float32{1, 0, 0}, "default", 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(HaveLen(2))
		Expect(hits[0].ID).To(Equal("a"))
		Expect(hits[0].Score).To(BeNumerically("~", 0.97))
		Expect(hits[1].Text).To(Equal("beta"))

		knn := fake.searchBody["knn"].(map[string]interface{})
		Expect(knn["k"]).To(BeNumerically("==", 2))
		Expect(knn["num_candidates"]).To(BeNumerically("==", 100))
		Expect(knn).To(HaveKey("filter"))
	})

	It("keys documents by namespace so equal ids do not collide", func() {
		res, err := index.Upsert(ctx, []vectorindex.Record{
			{ID: "a", Text: "alpha", Namespace: "left", Embedding: []float32{1, 0, 0}},
			{ID: "a", Text: "alpha", Namespace: "right", Embedding: []float32{1, 0, 0}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Accepted).To(Equal([]string{"a", "a"}))
		Expect(fake.bulkIDs).To(Equal([]string{"left/a", "right/a"}))
	})

	It("caps num_candidates for a large k", func() {
		_, err := index.Search(ctx, []float32{1, 0, 0}, "default", 5000)
		Expect(err).NotTo(HaveOccurred())
		knn := fake.searchBody["knn"].(map[string]interface{})
		Expect(knn["num_candidates"]).To(BeNumerically("==", 10000))
		Expect(knn["k"]).To(BeNumerically("<=", 10000))
	})

	It("omits the namespace filter for a global search", func() {
		_, err := index.Search(ctx, []float32{1, 0, 0}, "", 1)
		Expect(err).NotTo(HaveOccurred())
		knn := fake.searchBody["knn"].(map[string]interface{})
		Expect(knn).NotTo(HaveKey("filter"))
	})

	It("returns an empty result without calling the server when k is zero", func() {
		hits, err := index.Search(ctx, []float32{1, 0, 0}, "default", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(BeEmpty())
		Expect(fake.searchBody).To(BeNil())
	})

	It("surfaces search errors", func() {
		fake.searchFail = true
		_, err := index.Search(ctx, []float32{1, 0, 0}, "default", 2)
		Expect(err).To(HaveOccurred())
	})

	It("deletes by id terms inside the namespace", func() {
		Expect(index.Delete(ctx, "docs", []string{"a", "b"})).To(Succeed())
		query := fake.deleteBody["query"].(map[string]interface{})
		filter := query["bool"].(map[string]interface{})["filter"].([]interface{})
		Expect(filter).To(HaveLen(2))
		terms := filter[0].(map[string]interface{})["terms"].(map[string]interface{})
		Expect(terms["id"]).To(ConsistOf("a", "b"))
		term := filter[1].(map[string]interface{})["term"].(map[string]interface{})
		Expect(term).To(HaveKeyWithValue("namespace", "docs"))
	})

	It("deletes across namespaces when none is given", func() {
		Expect(index.Delete(ctx, "", []string{"a"})).To(Succeed())
		query := fake.deleteBody["query"].(map[string]interface{})
		filter := query["bool"].(map[string]interface{})["filter"].([]interface{})
		Expect(filter).To(HaveLen(1))
	})
})
