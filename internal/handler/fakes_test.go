package handler_test

import (
	"context"
	"io"

	"learn-go/internal/model"
	"learn-go/internal/pipeline"
	"learn-go/pkg/llm"
	"learn-go/pkg/vectorindex"
)

type fakeSearch struct {
	hits      []vectorindex.Hit
	query     string
	k         int
	namespace string
}

func (f *fakeSearch) Search(_ context.Context, query string, k int, namespace string) []vectorindex.Hit {
	f.query, f.k, f.namespace = query, k, namespace
	return f.hits
}

type fakeVectors struct {
	enqueued  []string
	files     []string
	filter    model.VectorMetadataFilter
	rows      []*model.VectorMetadata
	deleted   []string
	deleteNS  string
	authors   []string
	err       error
	fileBytes []byte
}

func (f *fakeVectors) Enqueue(_ context.Context, content, username, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if username == "" {
		return "", &pipeline.ValidationError{Field: "username", Reason: "must not be empty"}
	}
	f.enqueued = append(f.enqueued, content)
	return "job-1", nil
}

func (f *fakeVectors) EnqueueFile(_ context.Context, fileName string, r io.Reader, _ int64, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.files = append(f.files, fileName)
	f.fileBytes = b
	return "job-2", nil
}

func (f *fakeVectors) List(_ context.Context, filter model.VectorMetadataFilter) ([]*model.VectorMetadata, error) {
	f.filter = filter
	return f.rows, f.err
}

func (f *fakeVectors) Delete(_ context.Context, namespace string, ids []string) error {
	f.deleteNS = namespace
	f.deleted = append(f.deleted, ids...)
	return f.err
}

func (f *fakeVectors) DeleteByAuthor(_ context.Context, authors []string) error {
	f.authors = append(f.authors, authors...)
	return f.err
}

type fakeChat struct {
	answer string
	err    error
}

func (f *fakeChat) Ask(context.Context, string, string, string) (string, error) {
	return f.answer, f.err
}

func (f *fakeChat) StreamAnswer(_ context.Context, _, _, _ string, w llm.MessageWriter, _ func() bool) error {
	if f.err != nil {
		return f.err
	}
	return w.WriteMessage(1, []byte(`{"chunk":"`+f.answer+`"}`))
}
