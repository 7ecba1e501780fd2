package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"learn-go/internal/config"
	"learn-go/pkg/tasks"
)

var (
	errRetry = errors.New("temporary")
	errFatal = errors.New("fatal")
)

type scriptedProcessor struct {
	results []error
	calls   int
}

func (p *scriptedProcessor) Process(_ context.Context, _ tasks.UpsertTask) error {
	i := p.calls
	p.calls++
	if i < len(p.results) {
		return p.results[i]
	}
	return nil
}

type memoryCounter struct {
	counts  map[string]int64
	resets  int
	failing bool
}

func (m *memoryCounter) Incr(_ context.Context, jobID string) (int64, error) {
	if m.failing {
		return 0, errors.New("redis down")
	}
	m.counts[jobID]++
	return m.counts[jobID], nil
}

func (m *memoryCounter) Reset(_ context.Context, jobID string) error {
	m.resets++
	delete(m.counts, jobID)
	return nil
}

func testClassify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, errFatal):
		return OutcomeFatal
	default:
		return OutcomeRetryable
	}
}

var _ = Describe("Consumer.handle", func() {
	var (
		ctx       context.Context
		processor *scriptedProcessor
		counter   *memoryCounter
		consumer  *Consumer
		sleeps    []time.Duration
		message   []byte
	)

	BeforeEach(func() {
		ctx = context.Background()
		processor = &scriptedProcessor{}
		counter = &memoryCounter{counts: map[string]int64{}}
		sleeps = nil
		consumer = newConsumer(processor, counter, testClassify, config.JobConfig{
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffMax:  90 * time.Second,
		})
		consumer.sleep = func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}
		message, _ = json.Marshal(tasks.UpsertTask{JobID: "job-1", Content: "text", Username: "alice"})
	})

	It("commits a successful job and clears its counter", func() {
		Expect(consumer.handle(ctx, message)).To(BeTrue())
		Expect(processor.calls).To(Equal(1))
		Expect(counter.resets).To(Equal(1))
		Expect(sleeps).To(BeEmpty())
	})

	It("retries retryable failures with exponential backoff", func() {
		processor.results = []error{errRetry, errRetry}
		Expect(consumer.handle(ctx, message)).To(BeTrue())
		Expect(processor.calls).To(Equal(3))
		Expect(sleeps).To(Equal([]time.Duration{time.Second, 2 * time.Second}))
		Expect(counter.counts).NotTo(HaveKey("job-1"))
	})

	It("gives up after the attempt budget is exhausted", func() {
		processor.results = []error{errRetry, errRetry, errRetry, errRetry}
		Expect(consumer.handle(ctx, message)).To(BeTrue())
		Expect(processor.calls).To(Equal(3))
		Expect(sleeps).To(HaveLen(2))
	})

	It("continues the budget persisted by a previous run", func() {
		counter.counts["job-1"] = 2
		processor.results = []error{errRetry, errRetry}
		Expect(consumer.handle(ctx, message)).To(BeTrue())
		Expect(processor.calls).To(Equal(1))
	})

	It("does not retry fatal failures", func() {
		processor.results = []error{errFatal}
		Expect(consumer.handle(ctx, message)).To(BeTrue())
		Expect(processor.calls).To(Equal(1))
		Expect(sleeps).To(BeEmpty())
	})

	It("falls back to a local budget when the counter is unavailable", func() {
		counter.failing = true
		processor.results = []error{errRetry, errRetry, errRetry, errRetry}
		Expect(consumer.handle(ctx, message)).To(BeTrue())
		Expect(processor.calls).To(Equal(3))
	})

	It("commits malformed messages without processing them", func() {
		Expect(consumer.handle(ctx, []byte("not json"))).To(BeTrue())
		Expect(processor.calls).To(BeZero())
	})

	It("leaves the message uncommitted when shutting down mid-retry", func() {
		processor.results = []error{errRetry}
		consumer.sleep = func(context.Context, time.Duration) error { return context.Canceled }
		Expect(consumer.handle(ctx, message)).To(BeFalse())
	})
})

var _ = Describe("Consumer.backoff", func() {
	It("doubles from the base and caps at the maximum", func() {
		c := newConsumer(nil, nil, testClassify, config.JobConfig{MaxAttempts: 5, BackoffBase: 3 * time.Second, BackoffMax: 10 * time.Second})
		Expect(c.backoff(1)).To(Equal(3 * time.Second))
		Expect(c.backoff(2)).To(Equal(6 * time.Second))
		Expect(c.backoff(3)).To(Equal(10 * time.Second))
		Expect(c.backoff(10)).To(Equal(10 * time.Second))
	})
})
