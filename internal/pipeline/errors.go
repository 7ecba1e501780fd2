package pipeline

import (
	"errors"
	"fmt"
)

// ErrIndexUnavailable 表示向量索引暂时不可达（例如去重检索失败）。
var ErrIndexUnavailable = errors.New("vector index unavailable")

// EmptyInputError 表示切块后没有任何内容可以入库。
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string { return "content is empty after normalization" }

// ValidationError 表示请求参数本身不合法，重试不会改变结果。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EmbeddingError 表示 embedding 服务失败或返回数量不匹配。
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embedding failed: " + e.Err.Error() }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexWriteError 表示向量索引批量写入全部或部分失败，已成功的部分不会回滚。
type IndexWriteError struct {
	Accepted int
	Total    int
	Err      error
}

// Ratio 返回本次写入的成功比例。
func (e *IndexWriteError) Ratio() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Accepted) / float64(e.Total)
}

func (e *IndexWriteError) Error() string {
	msg := fmt.Sprintf("index write failed: %d/%d accepted (%.1f%%)", e.Accepted, e.Total, e.Ratio()*100)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// MetadataWriteError 表示向量已写入但元数据镜像失败。
type MetadataWriteError struct {
	Err error
}

func (e *MetadataWriteError) Error() string { return "metadata write failed: " + e.Err.Error() }
func (e *MetadataWriteError) Unwrap() error { return e.Err }

// Outcome 是任务队列据以决定重试或丢弃的处理结果。
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Classify 将流水线返回的错误映射为处理结果。未知错误按可重试处理。
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var (
		empty   *EmptyInputError
		invalid *ValidationError
	)
	if errors.As(err, &empty) || errors.As(err, &invalid) {
		return OutcomeFatal
	}
	// 包括进程退出导致的 context.Canceled，交给下一次消费重新处理
	return OutcomeRetryable
}
