// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"learn-go/internal/config"
	"learn-go/pkg/log"
	"learn-go/pkg/tasks"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.UpsertTask) error
}

// AttemptCounter 持久化任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, jobID string) (int64, error)
	Reset(ctx context.Context, jobID string) error
}

// Outcome 是任务处理结果的分类。
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

// Producer 将入库任务写入 Kafka。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Enqueue 发送一个入库任务，返回任务 id。任务未带 id 时自动生成。
func (p *Producer) Enqueue(ctx context.Context, task tasks.UpsertTask) (string, error) {
	if task.JobID == "" {
		task.JobID = uuid.NewString()
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.JobID),
		Value: taskBytes,
	})
	if err != nil {
		log.Errorf("[KafkaProducer] 发送任务失败, JobID: %s, error: %v", task.JobID, err)
		return "", fmt.Errorf("发送 Kafka 消息失败: %w", err)
	}
	log.Infof("[KafkaProducer] 任务已入队, JobID: %s", task.JobID)
	return task.JobID, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 顺序消费入库任务。可重试的失败在进程内按指数退避重试，
// 失败次数保存在 AttemptCounter 中，用尽后提交 offset 放弃该任务。
type Consumer struct {
	reader      *kafka.Reader
	processor   TaskProcessor
	attempts    AttemptCounter
	classify    func(error) Outcome
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewConsumer 创建消费者。classify 决定一次失败是否值得重试。
func NewConsumer(kafkaCfg config.KafkaConfig, jobCfg config.JobConfig, processor TaskProcessor, attempts AttemptCounter, classify func(error) Outcome) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(kafkaCfg.Brokers, ","),
		Topic:    kafkaCfg.Topic,
		GroupID:  kafkaCfg.GroupID,
		MinBytes: 1,    // 入库任务很小，不等待凑批
		MaxBytes: 10e6, // 10MB
	})
	c := newConsumer(processor, attempts, classify, jobCfg)
	c.reader = r
	return c
}

func newConsumer(processor TaskProcessor, attempts AttemptCounter, classify func(error) Outcome, jobCfg config.JobConfig) *Consumer {
	maxAttempts := jobCfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Consumer{
		processor:   processor,
		attempts:    attempts,
		classify:    classify,
		maxAttempts: maxAttempts,
		backoffBase: jobCfg.BackoffBase,
		backoffMax:  jobCfg.BackoffMax,
		sleep:       sleepContext,
	}
}

// Run 循环拉取消息直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.reader.Config().Topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者收到停止信号，退出")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		if !c.handle(ctx, m.Value) {
			// 进程退出导致的中断，不提交 offset，重启后重新消费
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

// handle 处理一条消息，返回 true 表示消息已有最终结果（成功、放弃或格式错误），可以提交 offset。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.UpsertTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}
	if task.JobID == "" {
		task.JobID = uuid.NewString()
	}

	for {
		err := c.processor.Process(ctx, task)
		outcome := c.classify(err)
		switch outcome {
		case OutcomeOK:
			log.Infof("入库任务处理成功: JobID=%s", task.JobID)
			if rerr := c.attempts.Reset(ctx, task.JobID); rerr != nil {
				log.Warnf("清理任务失败计数失败: JobID=%s, err=%v", task.JobID, rerr)
			}
			return true
		case OutcomeFatal:
			log.Errorf("入库任务不可重试，放弃: JobID=%s, Error: %v", task.JobID, err)
			_ = c.attempts.Reset(ctx, task.JobID)
			return true
		}

		if ctx.Err() != nil {
			return false
		}
		n, incErr := c.attempts.Incr(ctx, task.JobID)
		if incErr != nil {
			// 计数不可用时按本地计数处理，仍受 maxAttempts 约束
			log.Warnf("记录任务失败次数失败: JobID=%s, err=%v", task.JobID, incErr)
			return c.retryLocally(ctx, task, err)
		}
		if int(n) >= c.maxAttempts {
			log.Errorf("入库任务多次失败(>=%d)，提交 offset 终止重试: JobID=%s, Error: %v", c.maxAttempts, task.JobID, err)
			_ = c.attempts.Reset(ctx, task.JobID)
			return true
		}
		delay := c.backoff(int(n))
		log.Warnf("入库任务失败，%s 后第 %d 次重试: JobID=%s, Error: %v", delay, n+1, task.JobID, err)
		if c.sleep(ctx, delay) != nil {
			return false
		}
	}
}

func (c *Consumer) retryLocally(ctx context.Context, task tasks.UpsertTask, lastErr error) bool {
	for n := 1; n < c.maxAttempts; n++ {
		if c.sleep(ctx, c.backoff(n)) != nil {
			return false
		}
		lastErr = c.processor.Process(ctx, task)
		if c.classify(lastErr) != OutcomeRetryable {
			return true
		}
	}
	log.Errorf("入库任务多次失败(>=%d)，提交 offset 终止重试: JobID=%s, Error: %v", c.maxAttempts, task.JobID, lastErr)
	return true
}

// backoff 返回第 n 次失败后的等待时间：base * 2^(n-1)，不超过 backoffMax。
func (c *Consumer) backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := c.backoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if c.backoffMax > 0 && d >= c.backoffMax {
			return c.backoffMax
		}
	}
	if c.backoffMax > 0 && d > c.backoffMax {
		return c.backoffMax
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
