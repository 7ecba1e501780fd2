package service

import (
	"context"
	"encoding/json"
	"fmt"
	"learn-go/internal/config"
	"learn-go/pkg/llm"
	"learn-go/pkg/log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ChatService 定义了基于检索上下文的问答操作。
type ChatService interface {
	// Ask 返回完整回答。
	Ask(ctx context.Context, query, username, namespace string) (string, error)
	// StreamAnswer 将回答分块写入 writer，结束后发送完成通知。
	StreamAnswer(ctx context.Context, query, username, namespace string, writer llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	searchService SearchService
	llmClient     llm.Client
	llmCfg        config.LLMConfig
	topK          int
	now           func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。topK 为每次问答检索的上下文条数。
func NewChatService(searchService SearchService, llmClient llm.Client, llmCfg config.LLMConfig, topK int) ChatService {
	if topK <= 0 {
		topK = 2
	}
	return &chatService{
		searchService: searchService,
		llmClient:     llmClient,
		llmCfg:        llmCfg,
		topK:          topK,
		now:           time.Now,
	}
}

func (s *chatService) Ask(ctx context.Context, query, username, namespace string) (string, error) {
	messages := s.composeMessages(ctx, query, username, namespace)
	answer, err := s.llmClient.Chat(ctx, messages, s.buildGenerationParams())
	if err != nil {
		log.Errorf("[ChatService] 调用 LLM 失败, user: %s, error: %v", username, err)
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	log.Infof("[ChatService] 问答完成, user: %s, 回答长度: %d", username, len(answer))
	return answer, nil
}

func (s *chatService) StreamAnswer(ctx context.Context, query, username, namespace string, writer llm.MessageWriter, shouldStop func() bool) error {
	messages := s.composeMessages(ctx, query, username, namespace)
	interceptor := &chunkWriter{writer: writer, shouldStop: shouldStop}
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.buildGenerationParams(), interceptor); err != nil {
		return err
	}
	sendCompletion(writer)
	return nil
}

func (s *chatService) composeMessages(ctx context.Context, query, username, namespace string) []llm.Message {
	hits := s.searchService.Search(ctx, query, s.topK, namespace)
	systemMsg := s.buildSystemMessage(BuildContext(hits), username)
	return []llm.Message{
		{Role: "system", Content: systemMsg},
		{Role: "user", Content: query},
	}
}

func (s *chatService) buildSystemMessage(contextText, username string) string {
	refStart := s.llmCfg.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.llmCfg.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if s.llmCfg.Prompt.Rules != "" {
		sys.WriteString(s.llmCfg.Prompt.Rules)
		sys.WriteString("\n\n")
	}
	if username != "" {
		sys.WriteString(fmt.Sprintf("当前用户: %s。当前时间: %s。\n", username, s.now().Format("2006-01-02 15:04")))
	}
	sys.WriteString("上下文中的段落以 C<序号>: <内容> 的形式给出，只使用与问题相关的段落。\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
		sys.WriteString("\n")
	} else {
		noRes := s.llmCfg.Prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if s.llmCfg.Generation.Temperature != 0 {
		t := s.llmCfg.Generation.Temperature
		gp.Temperature = &t
	}
	if s.llmCfg.Generation.TopP != 0 {
		p := s.llmCfg.Generation.TopP
		gp.TopP = &p
	}
	if s.llmCfg.Generation.MaxTokens != 0 {
		m := s.llmCfg.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

// chunkWriter 将原始分块包装成 {"chunk":"..."} 再写出。
type chunkWriter struct {
	writer     llm.MessageWriter
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *chunkWriter) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.writer.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(w llm.MessageWriter) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = w.WriteMessage(websocket.TextMessage, b)
}
