// Package es 提供了基于 Elasticsearch dense_vector 的向量索引实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"learn-go/internal/config"
	"learn-go/pkg/log"
	"learn-go/pkg/vectorindex"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

// maxNumCandidates 是 knn 查询 num_candidates 的上限。
const maxNumCandidates = 10000

// Index 是 vectorindex.Index 的 Elasticsearch 实现。
// 客户端在进程启动时创建一次，由调用方持有并注入各组件。
type Index struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewIndex 创建 Elasticsearch 客户端，并确保索引存在。
// 连接失败或 502/503/504/429 时由客户端按指数退避自动重试。
func NewIndex(ctx context.Context, esCfg config.ElasticsearchConfig) (*Index, error) {
	cfg := elasticsearch.Config{
		Addresses:     strings.Split(esCfg.Addresses, ","),
		Username:      esCfg.Username,
		Password:      esCfg.Password,
		RetryOnStatus: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests},
		MaxRetries:    3,
		RetryBackoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 100 * time.Millisecond
		},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	idx := &Index{client: client, indexName: esCfg.IndexName, dims: esCfg.Dims}
	if err := idx.createIndexIfNotExists(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (i *Index) createIndexIfNotExists(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.indexName}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", i.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", i.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// id/namespace 为 keyword，用于精确过滤；向量使用 cosine 相似度
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"text": { "type": "text" },
				"namespace": { "type": "keyword" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, i.dims)

	res, err = i.client.Indices.Create(
		i.indexName,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", i.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", i.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", i.indexName)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// Upsert 通过 Bulk API 批量写入记录。文档 _id 为 namespace/id，同一命名空间内重复写入为覆盖。
func (i *Index) Upsert(ctx context.Context, records []vectorindex.Record) (vectorindex.UpsertResult, error) {
	result := vectorindex.UpsertResult{Rejected: map[string]string{}}
	var buf bytes.Buffer
	ids := make(map[string]string, len(records)) // _id -> 内容 id
	for _, r := range records {
		if err := vectorindex.Validate(r, i.dims); err != nil {
			result.Rejected[r.ID] = err.Error()
			continue
		}
		key := vectorindex.Key(r.Namespace, r.ID)
		ids[key] = r.ID
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": i.indexName, "_id": key}}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return result, err
		}
		if err := json.NewEncoder(&buf).Encode(r); err != nil {
			return result, err
		}
	}
	if len(ids) == 0 {
		return result, nil
	}

	res, err := i.client.Bulk(
		&buf,
		i.client.Bulk.WithContext(ctx),
		i.client.Bulk.WithIndex(i.indexName),
		i.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return result, fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return result, fmt.Errorf("elasticsearch bulk returned %s: %s", res.Status(), string(body))
	}

	var bulkRes bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return result, fmt.Errorf("failed to decode bulk response: %w", err)
	}
	for _, item := range bulkRes.Items {
		for _, op := range item {
			id, ok := ids[op.ID]
			if !ok {
				id = op.ID
			}
			if op.Error != nil || op.Status >= 300 {
				reason := fmt.Sprintf("status %d", op.Status)
				if op.Error != nil {
					reason = op.Error.Type + ": " + op.Error.Reason
				}
				result.Rejected[id] = reason
				continue
			}
			result.Accepted = append(result.Accepted, id)
		}
	}
	if bulkRes.Errors {
		log.Warnf("[ESIndex] bulk 写入部分失败, 成功 %d, 失败 %d", len(result.Accepted), len(result.Rejected))
	}
	return result, nil
}

// Search 使用 knn 检索最相近的 k 条记录，namespace 非空时作为过滤条件。
// Elasticsearch 对 cosine 相似度返回的 _score 为 (1 + cos) / 2。
func (i *Index) Search(ctx context.Context, embedding []float32, namespace string, k int) ([]vectorindex.Hit, error) {
	if k <= 0 || len(embedding) == 0 {
		return []vectorindex.Hit{}, nil
	}
	if k > maxNumCandidates {
		k = maxNumCandidates
	}
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	if numCandidates > maxNumCandidates {
		numCandidates = maxNumCandidates
	}
	knn := map[string]interface{}{
		"field":          "embedding",
		"query_vector":   embedding,
		"k":              k,
		"num_candidates": numCandidates,
	}
	if namespace != "" {
		knn["filter"] = map[string]interface{}{
			"term": map[string]interface{}{"namespace": namespace},
		}
	}
	query := map[string]interface{}{
		"knn":     knn,
		"size":    k,
		"_source": []string{"id", "text", "namespace"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.indexName),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s: %s", res.Status(), string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source vectorindex.Hit `json:"_source"`
				Score  float64         `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]vectorindex.Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hit := h.Source
		hit.Score = h.Score
		hits = append(hits, hit)
	}
	return hits, nil
}

// Delete 通过 delete_by_query 删除 namespace 内给定 id 的记录，namespace 为空时不限分区。
func (i *Index) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	filter := []interface{}{
		map[string]interface{}{"terms": map[string]interface{}{"id": ids}},
	}
	if namespace != "" {
		filter = append(filter, map[string]interface{}{"term": map[string]interface{}{"namespace": namespace}})
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filter},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := i.client.DeleteByQuery(
		[]string{i.indexName},
		&buf,
		i.client.DeleteByQuery.WithContext(ctx),
		i.client.DeleteByQuery.WithRefresh(true),
		i.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch delete_by_query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch delete_by_query returned %s: %s", res.Status(), string(body))
	}
	return nil
}
