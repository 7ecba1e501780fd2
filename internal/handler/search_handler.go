package handler

import (
	"learn-go/internal/service"
	"learn-go/pkg/log"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const (
	// maxQueryLength 是语义检索问句的最大字符数。
	maxQueryLength = 50
	// maxTopK 是单次检索返回条数的上限。
	maxTopK = 100
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
	defaultTopK   int
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, defaultTopK int) *SearchHandler {
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &SearchHandler{
		searchService: searchService,
		defaultTopK:   defaultTopK,
	}
}

// SemanticSearch 是处理语义检索请求的 Gin 处理函数。
func (h *SearchHandler) SemanticSearch(c *gin.Context) {
	query := c.Query("q")
	log.Infof("[SearchHandler] 收到语义检索请求, q: %s", query)

	if query == "" || utf8.RuneCountInString(query) > maxQueryLength {
		log.Warnf("[SearchHandler] 检索请求失败: q 参数为空或过长")
		respondError(c, http.StatusBadRequest, "无效的查询参数")
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", strconv.Itoa(h.defaultTopK)))
	if err != nil || k < 0 {
		k = h.defaultTopK
	}
	if k > maxTopK {
		k = maxTopK
	}
	namespace := c.Query("namespace")

	hits := h.searchService.Search(c.Request.Context(), query, k, namespace)
	log.Infof("[SearchHandler] 检索完成, q: '%s', 返回 %d 条结果", query, len(hits))
	respondOK(c, "success", hits)
}
