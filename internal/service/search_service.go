// Package service 提供了检索、入库与问答相关的业务逻辑。
package service

import (
	"context"
	"fmt"
	"learn-go/internal/pipeline"
	"learn-go/pkg/embedding"
	"learn-go/pkg/log"
	"learn-go/pkg/vectorindex"
	"strings"
	"time"
)

// SearchService 接口定义了语义检索操作。
type SearchService interface {
	// Search 返回与 query 最相近的 k 条记录。任何失败都只记录日志并返回空结果。
	Search(ctx context.Context, query string, k int, namespace string) []vectorindex.Hit
}

type searchService struct {
	embeddingClient embedding.Client
	index           vectorindex.Index
	timeout         time.Duration
}

// NewSearchService 创建一个新的 SearchService 实例。timeout 同时约束向量化与检索。
func NewSearchService(embeddingClient embedding.Client, index vectorindex.Index, timeout time.Duration) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		index:           index,
		timeout:         timeout,
	}
}

func (s *searchService) Search(ctx context.Context, query string, k int, namespace string) []vectorindex.Hit {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return []vectorindex.Hit{}
	}
	namespace, err := pipeline.NormalizeNamespace(namespace)
	if err != nil {
		log.Warnf("[SearchService] 命名空间不合法, namespace: %s, error: %v", namespace, err)
		return []vectorindex.Hit{}
	}
	log.Infof("[SearchService] 开始语义检索, query: '%s', k: %d, namespace: %s", query, k, namespace)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败, 返回空结果: %v", err)
		return []vectorindex.Hit{}
	}

	hits, err := s.index.Search(ctx, queryVector, namespace, k)
	if err != nil {
		log.Errorf("[SearchService] 向量检索失败, 返回空结果: %v", err)
		return []vectorindex.Hit{}
	}
	if hits == nil {
		hits = []vectorindex.Hit{}
	}
	log.Infof("[SearchService] 检索完成, 命中 %d 条", len(hits))
	return hits
}

// BuildContext 将检索结果拼成生成阶段使用的上下文，每条一行：C<i>: <text>，文本内的换行被移除。
func BuildContext(hits []vectorindex.Hit) string {
	lines := make([]string, 0, len(hits))
	for i, h := range hits {
		text := strings.ReplaceAll(h.Text, "\n", "")
		lines = append(lines, fmt.Sprintf("C%d: <%s>", i+1, text))
	}
	return strings.Join(lines, "\n")
}
