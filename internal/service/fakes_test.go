package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"

	"learn-go/pkg/llm"
	"learn-go/pkg/tasks"
	"learn-go/pkg/vectorindex"
)

type recordingQueue struct {
	tasks []tasks.UpsertTask
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task tasks.UpsertTask) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, task)
	return task.JobID, nil
}

type memoryObjects struct {
	objects map[string][]byte
}

func (m *memoryObjects) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	m.objects[name] = buf.Bytes()
	return nil
}

// failingIndex 在检索与删除时返回错误。
type failingIndex struct {
	vectorindex.Index
}

func (failingIndex) Search(context.Context, []float32, string, int) ([]vectorindex.Hit, error) {
	return nil, errors.New("index unavailable")
}

func (failingIndex) Delete(context.Context, string, []string) error {
	return errors.New("index unavailable")
}

// blockingIndex 的删除阻塞到 ctx 结束。
type blockingIndex struct {
	vectorindex.Index
}

func (blockingIndex) Delete(ctx context.Context, _ string, _ []string) error {
	<-ctx.Done()
	return ctx.Err()
}

// scriptedLLM 按分块返回固定回答，并记录收到的消息。
type scriptedLLM struct {
	chunks   []string
	err      error
	messages []llm.Message
}

func (s *scriptedLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	s.messages = messages
	if s.err != nil {
		return s.err
	}
	for _, c := range s.chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func (s *scriptedLLM) Chat(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	var buf llm.BufferWriter
	if err := s.StreamChatMessages(ctx, messages, gen, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type frameRecorder struct {
	frames []string
}

func (f *frameRecorder) WriteMessage(_ int, data []byte) error {
	f.frames = append(f.frames, string(data))
	return nil
}

type stubSearch struct {
	hits []vectorindex.Hit
}

func (s stubSearch) Search(context.Context, string, int, string) []vectorindex.Hit {
	return s.hits
}
