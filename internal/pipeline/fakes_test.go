package pipeline_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"learn-go/internal/model"
	"learn-go/pkg/vectorindex"
)

// stubIndex 返回固定的检索结果，用于验证阈值边界。
type stubIndex struct {
	hits       []vectorindex.Hit
	err        error
	namespaces []string
}

func (s *stubIndex) Upsert(_ context.Context, records []vectorindex.Record) (vectorindex.UpsertResult, error) {
	res := vectorindex.UpsertResult{Rejected: map[string]string{}}
	for _, r := range records {
		res.Accepted = append(res.Accepted, r.ID)
	}
	return res, nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, namespace string, k int) ([]vectorindex.Hit, error) {
	s.namespaces = append(s.namespaces, namespace)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

func (s *stubIndex) Delete(context.Context, string, []string) error { return nil }

// blockingIndex 的每个调用都阻塞到 ctx 结束。
type blockingIndex struct{}

func (blockingIndex) Upsert(ctx context.Context, _ []vectorindex.Record) (vectorindex.UpsertResult, error) {
	<-ctx.Done()
	return vectorindex.UpsertResult{}, ctx.Err()
}

func (blockingIndex) Search(ctx context.Context, _ []float32, _ string, _ int) ([]vectorindex.Hit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingIndex) Delete(ctx context.Context, _ string, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}

// rejectingIndex 包装内存索引，拒绝文本包含 reject 的记录。
type rejectingIndex struct {
	*vectorindex.MemoryIndex
	reject string
}

func (r *rejectingIndex) Upsert(ctx context.Context, records []vectorindex.Record) (vectorindex.UpsertResult, error) {
	var pass []vectorindex.Record
	rejected := map[string]string{}
	for _, rec := range records {
		if r.reject != "" && strings.Contains(rec.Text, r.reject) {
			rejected[rec.ID] = "simulated rejection"
			continue
		}
		pass = append(pass, rec)
	}
	res, err := r.MemoryIndex.Upsert(ctx, pass)
	for id, reason := range rejected {
		res.Rejected[id] = reason
	}
	return res, err
}

// memoryMetadataRepo 是测试用的元数据仓库，insertErr 非空时写入失败。
type memoryMetadataRepo struct {
	mu        sync.Mutex
	rows      []*model.VectorMetadata
	insertErr error
}

func (m *memoryMetadataRepo) InsertMany(_ context.Context, rows []*model.VectorMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memoryMetadataRepo) Find(_ context.Context, f model.VectorMetadataFilter) ([]*model.VectorMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.VectorMetadata
	for _, row := range m.rows {
		if f.CreatedBy != "" && row.CreatedBy != f.CreatedBy {
			continue
		}
		if f.Namespace != "" && row.Namespace != f.Namespace {
			continue
		}
		if len(f.VectorIDs) > 0 && !contains(f.VectorIDs, row.VectorID) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (m *memoryMetadataRepo) DeleteByIDs(_ context.Context, namespace string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, row := range m.rows {
		if (contains(ids, row.VectorID) || contains(ids, row.UUID)) && (namespace == "" || row.Namespace == namespace) {
			n++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return n, nil
}

func (m *memoryMetadataRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakeObjects struct {
	data map[string]string
}

func (f *fakeObjects) Get(_ context.Context, name string) (io.ReadCloser, error) {
	d, ok := f.data[name]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(d)), nil
}

type upperExtractor struct{}

func (upperExtractor) ExtractText(_ context.Context, r io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(string(b)), nil
}
