package pipeline

import (
	"fmt"
	"strings"
)

// defaultSeparators 按粒度从大到小排列：段落、行、词、字符。
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker 按 token 预算递归切分文本，相邻分块之间保留重叠。
type Chunker struct {
	size       int
	overlap    int
	count      func(string) int
	separators []string
}

// NewChunker 创建切块器。count 为 token 计数函数。
func NewChunker(size, overlap int, count func(string) int) (*Chunker, error) {
	if size <= 0 {
		return nil, &ValidationError{Field: "chunk_size", Reason: fmt.Sprintf("must be positive, got %d", size)}
	}
	if overlap < 0 || overlap >= size {
		return nil, &ValidationError{Field: "chunk_overlap", Reason: fmt.Sprintf("must be in [0, %d), got %d", size, overlap)}
	}
	if count == nil {
		return nil, &ValidationError{Field: "tokenizer", Reason: "token counter is nil"}
	}
	return &Chunker{size: size, overlap: overlap, count: count, separators: defaultSeparators}, nil
}

// Split 将 content 切分为不超过 size 个 token 的分块（单个不可再分的单元除外）。
func (c *Chunker) Split(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &EmptyInputError{}
	}
	raw := c.split(content, c.separators)
	chunks := make([]string, 0, len(raw))
	for _, ch := range raw {
		if strings.TrimSpace(ch) == "" {
			continue
		}
		chunks = append(chunks, ch)
	}
	if len(chunks) == 0 {
		return nil, &EmptyInputError{}
	}
	return chunks, nil
}

func (c *Chunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if c.count(piece) < c.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.merge(good)...)
	}
	return final
}

// merge 将小片段贪心拼接为分块；输出一个分块后，从窗口头部丢弃片段直到剩余部分不超过 overlap。
// 片段自带分隔符，因此拼接时不再插入分隔符。
func (c *Chunker) merge(pieces []string) []string {
	var (
		docs   []string
		window []string
		lens   []int
		total  int
	)
	for _, p := range pieces {
		n := c.count(p)
		if total+n > c.size && len(window) > 0 {
			docs = append(docs, strings.Join(window, ""))
			for total > c.overlap || (total+n > c.size && total > 0) {
				total -= lens[0]
				window = window[1:]
				lens = lens[1:]
			}
		}
		window = append(window, p)
		lens = append(lens, n)
		total += n
	}
	if len(window) > 0 {
		docs = append(docs, strings.Join(window, ""))
	}
	return docs
}

// splitKeepSeparator 按 separator 切分，分隔符保留在后一个片段的开头，空片段被丢弃。
// separator 为空时按字符切分。
func splitKeepSeparator(text, separator string) []string {
	if separator == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, separator)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, separator+p)
	}
	return out
}
