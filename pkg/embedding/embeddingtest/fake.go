// Package embeddingtest 提供测试用的确定性 embedding 客户端。
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// Dims 是 Fake 生成向量的维度。
const Dims = 16

// Fake 将文本按空白切词后哈希到固定维度的词袋向量，相同文本总是得到相同向量。
type Fake struct {
	mu    sync.Mutex
	Err   error // 非 nil 时所有调用返回该错误
	Short bool  // 为 true 时批量调用少返回一条，用于模拟数量不匹配
	Calls int
}

func (f *Fake) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Vector(text), nil
}

func (f *Fake) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, Vector(t))
	}
	if f.Short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// Vector 返回 text 的词袋哈希向量。
func Vector(text string) []float32 {
	v := make([]float32, Dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?")))
		v[h.Sum32()%Dims]++
	}
	// 保证非零向量
	v[Dims-1] += 0.01
	return v
}
