// Package pipeline 定义了知识入库的核心流程：切块、向量化、去重、写索引、写元数据。
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"learn-go/internal/config"
	"learn-go/internal/model"
	"learn-go/internal/repository"
	"learn-go/pkg/embedding"
	"learn-go/pkg/log"
	"learn-go/pkg/tasks"
	"learn-go/pkg/vectorindex"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ObjectReader 读取上传到对象存储的源文件。
type ObjectReader interface {
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
}

// TextExtractor 从二进制文件中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// ContentID 返回分块文本的内容哈希，相同文本总是得到相同 id。
func ContentID(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Processor 封装了入库流程的所有依赖和逻辑。
type Processor struct {
	chunker      *Chunker
	embedder     embedding.Client
	index        vectorindex.Index
	dedup        *Deduplicator
	metadataRepo repository.VectorMetadataRepository
	objects      ObjectReader
	extractor    TextExtractor

	embedTimeout time.Duration
	indexTimeout time.Duration
	now          func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。objects 与 extractor 仅在处理文件任务时需要，可以为 nil。
func NewProcessor(
	chunker *Chunker,
	embedder embedding.Client,
	index vectorindex.Index,
	metadataRepo repository.VectorMetadataRepository,
	objects ObjectReader,
	extractor TextExtractor,
	pipelineCfg config.PipelineConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		chunker:      chunker,
		embedder:     embedder,
		index:        index,
		dedup:        NewDeduplicator(index, pipelineCfg.DedupThreshold, pipelineCfg.DedupScope),
		metadataRepo: metadataRepo,
		objects:      objects,
		extractor:    extractor,
		embedTimeout: embeddingCfg.Timeout,
		indexTimeout: pipelineCfg.IndexTimeout,
		now:          time.Now,
	}
}

// NormalizeNamespace 为空命名空间补上默认值，并校验长度。
func NormalizeNamespace(namespace string) (string, error) {
	if namespace == "" {
		return vectorindex.DefaultNamespace, nil
	}
	if utf8.RuneCountInString(namespace) > vectorindex.MaxNamespaceLength {
		return "", &ValidationError{Field: "namespace", Reason: fmt.Sprintf("longer than %d chars", vectorindex.MaxNamespaceLength)}
	}
	return namespace, nil
}

// Upsert 将 content 切块入库，返回新写入的记录数。
func (p *Processor) Upsert(ctx context.Context, content, author, namespace string) (int, error) {
	namespace, err := NormalizeNamespace(namespace)
	if err != nil {
		return 0, err
	}
	if author == "" {
		return 0, &ValidationError{Field: "username", Reason: "must not be empty"}
	}

	// 1. 文本切块
	chunks, err := p.chunker.Split(content)
	if err != nil {
		log.Warnf("[Processor] 切块失败, author: %s, error: %v", author, err)
		return 0, err
	}
	log.Infof("[Processor] 步骤1: 文本分块完成, 共生成 %d 个分块, namespace: %s", len(chunks), namespace)

	// 2. 批量向量化
	embedCtx, cancel := withTimeout(ctx, p.embedTimeout)
	embeddings, err := p.embedder.CreateEmbeddings(embedCtx, chunks)
	cancel()
	if err != nil {
		log.Errorf("[Processor] 步骤2: 向量化失败, error: %v", err)
		return 0, &EmbeddingError{Err: err}
	}
	if len(embeddings) != len(chunks) {
		log.Errorf("[Processor] 步骤2: 向量数量不匹配, 期望 %d, 实际 %d", len(chunks), len(embeddings))
		return 0, &EmbeddingError{Err: fmt.Errorf("embedding count mismatch: want %d, got %d", len(chunks), len(embeddings))}
	}

	// 3. 去重，同时得到内容哈希 id
	dedupCtx, cancel := withTimeout(ctx, p.indexTimeout)
	accepted, rejected, err := p.dedup.Filter(dedupCtx, namespace, chunks, embeddings)
	cancel()
	if err != nil {
		return 0, err
	}
	log.Infof("[Processor] 步骤3: 去重完成, 保留 %d, 跳过 %d", len(accepted), len(rejected))

	// 完全相同的内容不再写索引，但为新的作者补一条元数据
	if err := p.attachProvenance(ctx, rejected, author, namespace); err != nil {
		return 0, err
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	// 4-5. 批量写入向量索引
	records := make([]vectorindex.Record, 0, len(accepted))
	byID := make(map[string]Candidate, len(accepted))
	for _, c := range accepted {
		// 同一批次内完全相同的分块只写一次
		if _, dup := byID[c.ID]; dup {
			continue
		}
		records = append(records, vectorindex.Record{ID: c.ID, Text: c.Text, Namespace: namespace, Embedding: c.Embedding})
		byID[c.ID] = c
	}
	indexCtx, cancel := withTimeout(ctx, p.indexTimeout)
	result, err := p.index.Upsert(indexCtx, records)
	cancel()
	if err != nil {
		log.Errorf("[Processor] 步骤5: 写入向量索引失败, error: %v", err)
		return 0, &IndexWriteError{Accepted: len(result.Accepted), Total: len(records), Err: err}
	}

	// 6. 只为实际写入的 id 写元数据
	written := make([]Candidate, 0, len(result.Accepted))
	for _, id := range result.Accepted {
		if c, ok := byID[id]; ok {
			written = append(written, c)
		}
	}
	if err := p.insertMetadata(ctx, written, author, namespace); err != nil {
		return 0, err
	}

	if len(result.Rejected) > 0 {
		log.Warnf("[Processor] 步骤5: 向量索引部分写入失败, 成功 %d/%d", len(written), len(records))
		return len(written), &IndexWriteError{
			Accepted: len(written),
			Total:    len(records),
			Err:      fmt.Errorf("rejected ids: %v", rejectedIDs(result.Rejected)),
		}
	}

	log.Infof("[Processor] 入库完成, author: %s, namespace: %s, 新增 %d 条", author, namespace, len(written))
	return len(written), nil
}

// attachProvenance 为被判定为完全重复（同一命名空间内 id 相同）的分块补写当前作者的元数据。
func (p *Processor) attachProvenance(ctx context.Context, rejected []Candidate, author, namespace string) error {
	var ids []string
	byID := make(map[string]Candidate)
	for _, c := range rejected {
		if c.BestHit == nil || c.BestHit.ID != c.ID || c.BestHit.Namespace != namespace {
			continue
		}
		if _, ok := byID[c.ID]; ok {
			continue
		}
		ids = append(ids, c.ID)
		byID[c.ID] = c
	}
	if len(ids) == 0 {
		return nil
	}

	findCtx, cancel := withTimeout(ctx, p.indexTimeout)
	existing, err := p.metadataRepo.Find(findCtx, model.VectorMetadataFilter{CreatedBy: author, Namespace: namespace, VectorIDs: ids})
	cancel()
	if err != nil {
		log.Errorf("[Processor] 查询已有元数据失败, author: %s, error: %v", author, err)
		return &MetadataWriteError{Err: err}
	}
	for _, row := range existing {
		delete(byID, row.VectorID)
	}
	missing := make([]Candidate, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	log.Infof("[Processor] 为 %d 条已存在的记录补写作者 %s 的元数据", len(missing), author)
	return p.insertMetadata(ctx, missing, author, namespace)
}

func (p *Processor) insertMetadata(ctx context.Context, candidates []Candidate, author, namespace string) error {
	if len(candidates) == 0 {
		return nil
	}
	now := p.now()
	rows := make([]*model.VectorMetadata, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, &model.VectorMetadata{
			UUID:      uuid.NewString(),
			VectorID:  c.ID,
			Content:   c.Text,
			Namespace: namespace,
			CreatedBy: author,
			CreatedAt: now,
		})
	}
	// 元数据写入沿用 index_timeout
	insertCtx, cancel := withTimeout(ctx, p.indexTimeout)
	defer cancel()
	if err := p.metadataRepo.InsertMany(insertCtx, rows); err != nil {
		log.Errorf("[Processor] 步骤6: 写入元数据失败, author: %s, error: %v", author, err)
		return &MetadataWriteError{Err: err}
	}
	return nil
}

// Process 是 Kafka 任务的处理入口：解析任务内容后调用 Upsert。
func (p *Processor) Process(ctx context.Context, task tasks.UpsertTask) error {
	log.Infof("[Processor] 开始处理任务, JobID: %s, Username: %s, Namespace: %s", task.JobID, task.Username, task.Namespace)

	content := task.Content
	if task.ObjectName != "" {
		text, err := p.extract(ctx, task)
		if err != nil {
			return err
		}
		content = text
	}

	n, err := p.Upsert(ctx, content, task.Username, task.Namespace)
	if err != nil {
		return err
	}
	log.Infof("[Processor] 任务处理成功, JobID: %s, 新增 %d 条", task.JobID, n)
	return nil
}

// extract 从对象存储下载文件并用 Tika 提取文本。
func (p *Processor) extract(ctx context.Context, task tasks.UpsertTask) (string, error) {
	if p.objects == nil || p.extractor == nil {
		return "", &ValidationError{Field: "object_name", Reason: "file ingestion is not configured"}
	}
	object, err := p.objects.Get(ctx, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载文件失败, Object: %s, Error: %v", task.ObjectName, err)
		return "", err
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return "", fmt.Errorf("读取MinIO对象流失败: %w", err)
	}
	if size == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return "", &EmptyInputError{}
	}

	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.FileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	log.Infof("[Processor] 文本提取成功, FileName: %s, 内容长度: %d 字符", task.FileName, utf8.RuneCountInString(text))
	return text, nil
}

func rejectedIDs(rejected map[string]string) []string {
	ids := make([]string, 0, len(rejected))
	for id := range rejected {
		ids = append(ids, id)
	}
	return ids
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
