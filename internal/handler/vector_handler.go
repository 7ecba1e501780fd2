package handler

import (
	"learn-go/internal/model"
	"learn-go/internal/service"
	"learn-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// VectorHandler 负责知识条目的入库、列表与删除请求。
type VectorHandler struct {
	vectorService service.VectorService
}

// NewVectorHandler 创建一个新的 VectorHandler 实例。
func NewVectorHandler(vectorService service.VectorService) *VectorHandler {
	return &VectorHandler{vectorService: vectorService}
}

// UpsertRequest 是文本入库请求体。
type UpsertRequest struct {
	Content   string `json:"content" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Namespace string `json:"namespace"`
}

// Upsert 校验请求后投递异步入库任务，立即返回任务 id。
func (h *VectorHandler) Upsert(c *gin.Context) {
	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	jobID, err := h.vectorService.Enqueue(c.Request.Context(), req.Content, req.Username, req.Namespace)
	if err != nil {
		log.Errorf("[VectorHandler] 投递入库任务失败, user: %s, error: %v", req.Username, err)
		respondError(c, statusFor(err), err.Error())
		return
	}
	respondOK(c, "任务已提交", gin.H{"job_id": jobID})
}

// UpsertFile 接收 multipart 文件，保存到对象存储后投递入库任务。
func (h *VectorHandler) UpsertFile(c *gin.Context) {
	username := c.PostForm("username")
	namespace := c.PostForm("namespace")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "缺少上传文件")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "无法读取上传文件")
		return
	}
	defer file.Close()

	jobID, err := h.vectorService.EnqueueFile(c.Request.Context(), fileHeader.Filename, file, fileHeader.Size, username, namespace)
	if err != nil {
		log.Errorf("[VectorHandler] 投递文件入库任务失败, file: %s, error: %v", fileHeader.Filename, err)
		respondError(c, statusFor(err), err.Error())
		return
	}
	respondOK(c, "任务已提交", gin.H{"job_id": jobID})
}

// ListRequest 是元数据查询请求体。
type ListRequest struct {
	Filter struct {
		CreatedBy string `json:"created_by"`
		Namespace string `json:"namespace"`
		ID        string `json:"id"`
	} `json:"filter"`
	Sort  string `json:"sort"` // asc | desc
	Skip  int    `json:"skip"`
	Limit int    `json:"limit"`
}

// List 按条件返回元数据列表。
func (h *VectorHandler) List(c *gin.Context) {
	var req ListRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "无效的请求参数")
			return
		}
	}
	filter := model.VectorMetadataFilter{
		CreatedBy: req.Filter.CreatedBy,
		Namespace: req.Filter.Namespace,
		SortAsc:   req.Sort == "asc",
		Skip:      req.Skip,
		Limit:     req.Limit,
	}
	if req.Filter.ID != "" {
		filter.VectorIDs = []string{req.Filter.ID}
	}
	rows, err := h.vectorService.List(c.Request.Context(), filter)
	if err != nil {
		log.Error("[VectorHandler] 查询元数据失败", err)
		respondError(c, http.StatusInternalServerError, "查询失败")
		return
	}
	respondOK(c, "success", rows)
}

// DeleteRequest 是按 id 删除的请求体。namespace 为空时使用默认命名空间。
type DeleteRequest struct {
	IDs       []string `json:"ids" binding:"required,min=1"`
	Namespace string   `json:"namespace"`
}

// Delete 在命名空间内按 id 删除向量与元数据。
func (h *VectorHandler) Delete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	if err := h.vectorService.Delete(c.Request.Context(), req.Namespace, req.IDs); err != nil {
		respondError(c, statusFor(err), err.Error())
		return
	}
	respondOK(c, "删除成功", gin.H{"ids": req.IDs})
}

// DeleteByUsernamesRequest 是按作者删除的请求体。
type DeleteByUsernamesRequest struct {
	Usernames []string `json:"usernames" binding:"required,min=1"`
}

// DeleteByUsernames 删除给定作者写入的记录。
func (h *VectorHandler) DeleteByUsernames(c *gin.Context) {
	var req DeleteByUsernamesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	if err := h.vectorService.DeleteByAuthor(c.Request.Context(), req.Usernames); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(c, "删除成功", gin.H{"usernames": req.Usernames})
}
