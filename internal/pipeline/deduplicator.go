package pipeline

import (
	"context"
	"fmt"
	"learn-go/pkg/log"
	"learn-go/pkg/vectorindex"
)

const (
	// DedupScopeNamespace 只与同一命名空间内的记录比较。
	DedupScopeNamespace = "namespace"
	// DedupScopeGlobal 与整个索引比较。
	DedupScopeGlobal = "global"
)

// Candidate 是一条待写入的分块及其去重结果。
type Candidate struct {
	ID        string
	Text      string
	Embedding []float32
	// BestHit 为索引中最相近的记录，索引为空时为 nil。
	BestHit *vectorindex.Hit
}

// Deduplicator 将候选分块与已入库的内容比较，丢弃相似度过高的分块。
// 同一批次内的分块之间不做比较。
type Deduplicator struct {
	index     vectorindex.Index
	threshold float64
	scope     string
}

func NewDeduplicator(index vectorindex.Index, threshold float64, scope string) *Deduplicator {
	if scope != DedupScopeGlobal {
		scope = DedupScopeNamespace
	}
	return &Deduplicator{index: index, threshold: threshold, scope: scope}
}

// Filter 对每个候选做一次 top-1 检索，最高分 >= threshold 即判为重复。
func (d *Deduplicator) Filter(ctx context.Context, namespace string, texts []string, embeddings [][]float32) (accepted, rejected []Candidate, err error) {
	if len(texts) != len(embeddings) {
		return nil, nil, fmt.Errorf("dedup input mismatch: %d texts, %d embeddings", len(texts), len(embeddings))
	}
	searchNS := namespace
	if d.scope == DedupScopeGlobal {
		searchNS = ""
	}
	for i, text := range texts {
		cand := Candidate{ID: ContentID(text), Text: text, Embedding: embeddings[i]}
		hits, err := d.index.Search(ctx, embeddings[i], searchNS, 1)
		if err != nil {
			log.Errorf("[Deduplicator] 去重检索失败, namespace: %s, error: %v", namespace, err)
			return nil, nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		if len(hits) > 0 {
			best := hits[0]
			cand.BestHit = &best
			if best.Score >= d.threshold {
				log.Debugf("[Deduplicator] 分块与已有记录 %s 相似度 %.4f, 已跳过", best.ID, best.Score)
				rejected = append(rejected, cand)
				continue
			}
		}
		accepted = append(accepted, cand)
	}
	return accepted, rejected, nil
}
