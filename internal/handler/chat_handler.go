package handler

import (
	"context"
	"encoding/json"
	"learn-go/internal/service"
	"learn-go/pkg/log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责问答请求，包括普通 HTTP 与 WebSocket 流式两种方式。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// AskingRequest 是问答请求体。
type AskingRequest struct {
	Q         string `json:"q" binding:"required"`
	Username  string `json:"username"`
	Namespace string `json:"namespace"`
}

// Asking 返回基于检索上下文生成的完整回答。
func (h *ChatHandler) Asking(c *gin.Context) {
	var req AskingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	answer, err := h.chatService.Ask(c.Request.Context(), req.Q, req.Username, req.Namespace)
	if err != nil {
		log.Errorf("[ChatHandler] 生成回答失败: %v", err)
		respondError(c, http.StatusInternalServerError, "AI服务暂时不可用，请稍后重试")
		return
	}
	respondOK(c, "success", gin.H{"response": answer})
}

// Stream 处理一个 WebSocket 连接：每条文本消息是一个问题，回答以 {"chunk":"..."} 分块推送。
// 发送 {"type":"stop"} 可中断当前回答。
func (h *ChatHandler) Stream(c *gin.Context) {
	username := c.Query("username")
	namespace := c.Query("namespace")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", username)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var stopped atomic.Bool
	questions := make(chan string)
	go func() {
		defer close(questions)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
				cancel()
				return
			}
			var ctrl struct {
				Type string `json:"type"`
			}
			if len(message) > 0 && message[0] == '{' && json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
				stopped.Store(true)
				continue
			}
			select {
			case questions <- string(message):
			case <-ctx.Done():
				return
			}
		}
	}()

	// 写操作只在当前 goroutine 中进行
	for q := range questions {
		stopped.Store(false)
		err := h.chatService.StreamAnswer(ctx, q, username, namespace, conn, stopped.Load)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			b, _ := json.Marshal(map[string]interface{}{
				"error":     "AI服务暂时不可用，请稍后重试",
				"timestamp": time.Now().UnixMilli(),
			})
			_ = conn.WriteMessage(websocket.TextMessage, b)
			return
		}
	}
}
