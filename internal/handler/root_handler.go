package handler

import (
	"github.com/gin-gonic/gin"
)

// RootHandler 返回服务的版本信息。
type RootHandler struct {
	version string
	mode    string
}

func NewRootHandler(version, mode string) *RootHandler {
	return &RootHandler{version: version, mode: mode}
}

func (h *RootHandler) Index(c *gin.Context) {
	respondOK(c, "success", gin.H{"version": h.version, "mode": h.mode})
}
