package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbassist/internal/middleware"
	"github.com/xxxsen/kbassist/internal/pkg/errcode"
	"github.com/xxxsen/kbassist/internal/pkg/response"
	"github.com/xxxsen/kbassist/internal/service"
)

type KnowledgeHandler struct {
	knowledge      *service.KnowledgeService
	maxUploadBytes int64
	defaultTopK    int
}

func NewKnowledgeHandler(knowledge *service.KnowledgeService, maxUploadBytes int64, defaultTopK int) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, maxUploadBytes: maxUploadBytes, defaultTopK: defaultTopK}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *KnowledgeHandler) Load(c *gin.Context) {
	sess := middleware.GetSession(c)
	req, closeFn, err := readLoadRequest(c)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read upload")
		return
	}
	defer closeFn()
	kb, err := h.knowledge.Load(c.Request.Context(), sess.Collection(), req)
	if err != nil {
		handleError(c, err, h.maxUploadBytes)
		return
	}
	sess.SetLoaded(true)
	response.Success(c, kb)
}

func (h *KnowledgeHandler) Status(c *gin.Context) {
	kb, err := h.knowledge.Status(c.Request.Context(), middleware.GetSession(c).Collection())
	if err != nil {
		handleError(c, err, h.maxUploadBytes)
		return
	}
	response.Success(c, gin.H{
		"collection":  kb.Collection,
		"loaded":      kb.Loaded(),
		"sources":     kb.Sources,
		"chunk_count": kb.ChunkCount,
	})
}

func (h *KnowledgeHandler) Delete(c *gin.Context) {
	sess := middleware.GetSession(c)
	if err := h.knowledge.Delete(c.Request.Context(), sess.Collection()); err != nil {
		handleError(c, err, h.maxUploadBytes)
		return
	}
	sess.SetLoaded(false)
	response.Success(c, gin.H{"collection": sess.Collection()})
}

func (h *KnowledgeHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	topK := req.TopK
	if topK <= 0 || topK > 50 {
		topK = h.defaultTopK
	}
	hits, err := h.knowledge.Search(c.Request.Context(), middleware.GetSession(c).Collection(), req.Query, topK)
	if err != nil {
		handleError(c, err, h.maxUploadBytes)
		return
	}
	response.Success(c, gin.H{"hits": hits})
}

// readLoadRequest reads the optional pdf_url, website_url and file form fields.
func readLoadRequest(c *gin.Context) (service.LoadRequest, func(), error) {
	req := service.LoadRequest{
		PDFURL:     c.PostForm("pdf_url"),
		WebsiteURL: c.PostForm("website_url"),
	}
	noop := func() {}
	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return req, noop, nil
		}
		return req, noop, err
	}
	if header.Filename == "" {
		return req, noop, nil
	}
	file, err := header.Open()
	if err != nil {
		return req, noop, err
	}
	req.File = &service.UploadedFile{Name: header.Filename, Size: header.Size, Reader: file}
	return req, func() { _ = file.Close() }, nil
}
