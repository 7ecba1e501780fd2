package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex 是基于暴力余弦计算的内存索引，适用于单机开发与测试。
// 评分方式与 Elasticsearch 的 cosine 相似度一致：(1 + cos) / 2。
type MemoryIndex struct {
	mu      sync.RWMutex
	dims    int
	records map[string]Record // Key(namespace, id) -> Record
	order   []string          // 首次写入顺序，作为同分时的原生顺序
}

// NewMemoryIndex 创建一个内存索引。dims <= 0 表示不校验维度。
func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{
		dims:    dims,
		records: make(map[string]Record),
	}
}

// Upsert 写入记录，同一命名空间内已存在的 id 被覆盖。
func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := UpsertResult{Rejected: map[string]string{}}
	for _, r := range records {
		if err := Validate(r, m.dims); err != nil {
			result.Rejected[r.ID] = err.Error()
			continue
		}
		key := Key(r.Namespace, r.ID)
		if _, ok := m.records[key]; !ok {
			m.order = append(m.order, key)
		}
		emb := make([]float32, len(r.Embedding))
		copy(emb, r.Embedding)
		r.Embedding = emb
		m.records[key] = r
		result.Accepted = append(result.Accepted, r.ID)
	}
	return result, nil
}

// Search 返回 namespace 内与 embedding 最相近的 k 条记录。
func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, namespace string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(embedding) == 0 {
		return []Hit{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.records))
	for _, key := range m.order {
		r, ok := m.records[key]
		if !ok {
			continue
		}
		if namespace != "" && r.Namespace != namespace {
			continue
		}
		hits = append(hits, Hit{
			ID:        r.ID,
			Text:      r.Text,
			Namespace: r.Namespace,
			Score:     NormalizedCosine(embedding, r.Embedding),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete 删除 namespace 内给定 id 的记录，namespace 为空时删除所有分区中的同 id 记录。
func (m *MemoryIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}
	kept := m.order[:0]
	for _, key := range m.order {
		r := m.records[key]
		if _, hit := targets[r.ID]; hit && (namespace == "" || r.Namespace == namespace) {
			delete(m.records, key)
			continue
		}
		kept = append(kept, key)
	}
	m.order = kept
	return nil
}

// Len 返回索引中的记录数。
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// NormalizedCosine 计算两个向量的余弦相似度并映射到 [0,1]。
// 维度不一致或存在零向量时返回 0.5（即 cos = 0）。
func NormalizedCosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.5
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.5
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return (1 + cos) / 2
}
