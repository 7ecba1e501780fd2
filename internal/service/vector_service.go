package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"learn-go/internal/model"
	"learn-go/internal/pipeline"
	"learn-go/internal/repository"
	"learn-go/pkg/log"
	"learn-go/pkg/tasks"
	"learn-go/pkg/vectorindex"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const defaultListLimit = 100

// TaskQueue 接收异步入库任务。
type TaskQueue interface {
	Enqueue(ctx context.Context, task tasks.UpsertTask) (string, error)
}

// ObjectWriter 保存上传的源文件。
type ObjectWriter interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

// VectorService 定义了知识条目的入库、查询与删除操作。
type VectorService interface {
	Enqueue(ctx context.Context, content, username, namespace string) (string, error)
	EnqueueFile(ctx context.Context, fileName string, r io.Reader, size int64, username, namespace string) (string, error)
	List(ctx context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error)
	Delete(ctx context.Context, namespace string, ids []string) error
	DeleteByAuthor(ctx context.Context, authors []string) error
}

type vectorService struct {
	queue        TaskQueue
	objects      ObjectWriter
	metadataRepo repository.VectorMetadataRepository
	index        vectorindex.Index
	authorBatch  int
	timeout      time.Duration
}

// NewVectorService 创建一个新的 VectorService 实例。objects 为 nil 时不支持文件入库。
// timeout 约束每一次元数据与向量索引调用。
func NewVectorService(queue TaskQueue, objects ObjectWriter, metadataRepo repository.VectorMetadataRepository, index vectorindex.Index, authorBatch int, timeout time.Duration) VectorService {
	if authorBatch <= 0 {
		authorBatch = 250
	}
	return &vectorService{
		queue:        queue,
		objects:      objects,
		metadataRepo: metadataRepo,
		index:        index,
		authorBatch:  authorBatch,
		timeout:      timeout,
	}
}

// Enqueue 校验请求后将文本入库任务放入队列，返回任务 id。
func (s *vectorService) Enqueue(ctx context.Context, content, username, namespace string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", &pipeline.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(content) > vectorindex.MaxTextLength {
		return "", &pipeline.ValidationError{Field: "content", Reason: fmt.Sprintf("longer than %d chars", vectorindex.MaxTextLength)}
	}
	task, err := newTask(username, namespace)
	if err != nil {
		return "", err
	}
	task.Content = content
	return s.queue.Enqueue(ctx, task)
}

// EnqueueFile 将文件保存到对象存储，再投递按对象名提取文本的入库任务。
func (s *vectorService) EnqueueFile(ctx context.Context, fileName string, r io.Reader, size int64, username, namespace string) (string, error) {
	if s.objects == nil {
		return "", &pipeline.ValidationError{Field: "file", Reason: "file ingestion is not configured"}
	}
	if fileName == "" {
		return "", &pipeline.ValidationError{Field: "file", Reason: "missing file name"}
	}
	task, err := newTask(username, namespace)
	if err != nil {
		return "", err
	}
	task.FileName = filepath.Base(fileName)
	task.ObjectName = fmt.Sprintf("uploads/%s/%s", task.JobID, task.FileName)
	if err := s.objects.Put(ctx, task.ObjectName, r, size, ""); err != nil {
		return "", err
	}
	log.Infof("[VectorService] 文件已保存, Object: %s, Size: %d", task.ObjectName, size)
	return s.queue.Enqueue(ctx, task)
}

func newTask(username, namespace string) (tasks.UpsertTask, error) {
	if username == "" {
		return tasks.UpsertTask{}, &pipeline.ValidationError{Field: "username", Reason: "must not be empty"}
	}
	namespace, err := pipeline.NormalizeNamespace(namespace)
	if err != nil {
		return tasks.UpsertTask{}, err
	}
	return tasks.UpsertTask{JobID: uuid.NewString(), Username: username, Namespace: namespace}, nil
}

// List 按条件分页查询元数据，默认返回最新的 100 条。
func (s *vectorService) List(ctx context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}
	findCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.metadataRepo.Find(findCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询元数据失败: %w", err)
	}
	if rows == nil {
		rows = []*model.VectorMetadata{}
	}
	return rows, nil
}

// Delete 在 namespace 内先删元数据再删向量，任一存储失败都不回滚另一方，错误合并后返回。
// namespace 为空时使用默认命名空间。
func (s *vectorService) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	namespace, err := pipeline.NormalizeNamespace(namespace)
	if err != nil {
		return err
	}
	var errs []error
	metaCtx, cancel := s.withTimeout(ctx)
	n, err := s.metadataRepo.DeleteByIDs(metaCtx, namespace, ids)
	cancel()
	if err != nil {
		log.Errorf("[VectorService] 删除元数据失败, namespace: %s, ids: %v, error: %v", namespace, ids, err)
		errs = append(errs, fmt.Errorf("删除元数据失败: %w", err))
	} else {
		log.Infof("[VectorService] 已删除 %d 行元数据, namespace: %s", n, namespace)
	}
	indexCtx, cancel := s.withTimeout(ctx)
	err = s.index.Delete(indexCtx, namespace, ids)
	cancel()
	if err != nil {
		log.Errorf("[VectorService] 删除向量失败, namespace: %s, ids: %v, error: %v", namespace, ids, err)
		errs = append(errs, fmt.Errorf("删除向量失败: %w", err))
	}
	return errors.Join(errs...)
}

// DeleteByAuthor 按作者查出最新的一批记录，按命名空间分组删除。
func (s *vectorService) DeleteByAuthor(ctx context.Context, authors []string) error {
	var errs []error
	for _, author := range authors {
		if author == "" {
			continue
		}
		findCtx, cancel := s.withTimeout(ctx)
		rows, err := s.metadataRepo.Find(findCtx, model.VectorMetadataFilter{CreatedBy: author, Limit: s.authorBatch})
		cancel()
		if err != nil {
			log.Errorf("[VectorService] 查询作者 %s 的元数据失败: %v", author, err)
			errs = append(errs, fmt.Errorf("查询作者 %s 的元数据失败: %w", author, err))
			continue
		}
		if len(rows) == 0 {
			log.Infof("[VectorService] 作者 %s 没有可删除的记录", author)
			continue
		}
		var namespaces []string
		byNamespace := make(map[string][]string)
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			key := vectorindex.Key(row.Namespace, row.VectorID)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if _, ok := byNamespace[row.Namespace]; !ok {
				namespaces = append(namespaces, row.Namespace)
			}
			byNamespace[row.Namespace] = append(byNamespace[row.Namespace], row.VectorID)
		}
		for _, ns := range namespaces {
			ids := byNamespace[ns]
			log.Infof("[VectorService] 删除作者 %s 在 %s 中的 %d 条记录", author, ns, len(ids))
			if err := s.Delete(ctx, ns, ids); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *vectorService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
