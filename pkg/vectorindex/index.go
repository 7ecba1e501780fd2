// Package vectorindex 定义了按命名空间划分的向量索引契约，以及一个内存实现。
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// DefaultNamespace 是未指定命名空间时使用的分区。
	DefaultNamespace = "default"

	MaxIDLength        = 32
	MaxTextLength      = 4000
	MaxNamespaceLength = 32
)

// ErrInvalidRecord 表示记录违反了索引的字段约束。
var ErrInvalidRecord = errors.New("invalid vector record")

// Record 是写入索引的最小知识单元。
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Namespace string    `json:"namespace"`
	Embedding []float32 `json:"embedding"`
}

// Hit 是一次相似度检索的命中结果。
// Score 为归一化到 [0,1] 的余弦相似度，1 表示方向完全一致。
type Hit struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Namespace string  `json:"namespace"`
	Score     float64 `json:"score"`
}

// Key 返回记录在索引中的存储键。同一内容 id 在不同命名空间下是两条独立的记录。
func Key(namespace, id string) string {
	return namespace + "/" + id
}

// UpsertResult 汇总一次批量写入中被接受与被拒绝的 id。
type UpsertResult struct {
	Accepted []string
	Rejected map[string]string // id -> 拒绝原因
}

// Total 返回本次写入涉及的记录总数。
func (r UpsertResult) Total() int {
	return len(r.Accepted) + len(r.Rejected)
}

// Index 是核心流水线所依赖的向量索引能力。
type Index interface {
	// Upsert 按 (namespace, id) 覆盖写入记录。部分记录失败时仍返回 nil error，失败项记录在 Rejected 中。
	Upsert(ctx context.Context, records []Record) (UpsertResult, error)
	// Search 返回与 embedding 最相近的 k 条记录，按相似度降序。namespace 为空时不做分区过滤。
	Search(ctx context.Context, embedding []float32, namespace string, k int) ([]Hit, error)
	// Delete 删除 namespace 内给定 id 的记录，不存在的 id 被忽略。namespace 为空时在所有分区中删除。
	Delete(ctx context.Context, namespace string, ids []string) error
}

// Validate 检查记录是否满足索引的字段约束。dims <= 0 时跳过维度检查。
func Validate(r Record, dims int) error {
	switch {
	case r.ID == "" || len(r.ID) > MaxIDLength:
		return fmt.Errorf("%w: id length %d", ErrInvalidRecord, len(r.ID))
	case utf8.RuneCountInString(r.Text) > MaxTextLength:
		return fmt.Errorf("%w: text longer than %d chars", ErrInvalidRecord, MaxTextLength)
	case r.Namespace == "" || utf8.RuneCountInString(r.Namespace) > MaxNamespaceLength:
		return fmt.Errorf("%w: namespace %q", ErrInvalidRecord, r.Namespace)
	case len(r.Embedding) == 0:
		return fmt.Errorf("%w: empty embedding", ErrInvalidRecord)
	case dims > 0 && len(r.Embedding) != dims:
		return fmt.Errorf("%w: embedding dimension %d, expected %d", ErrInvalidRecord, len(r.Embedding), dims)
	}
	return nil
}
