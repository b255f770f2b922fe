package handler

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/ai"
	"github.com/xxxsen/kbassist/internal/middleware"
	"github.com/xxxsen/kbassist/internal/pkg/errcode"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
	"github.com/xxxsen/kbassist/internal/pkg/response"
	"github.com/xxxsen/kbassist/internal/service"
	"github.com/xxxsen/kbassist/internal/session"
)

const (
	msgNoSource         = "No knowledge bases available. Please configure at least one valid source."
	msgLoaded           = "Knowledge Base Loaded Successfully!"
	msgNotLoaded        = "Please load a knowledge base before asking questions."
	msgEmptyQuestion    = "Please enter a question."
	msgHistoryCleared   = "Chat history cleared."
	msgTooFast          = "Please wait a moment before sending another request."
	msgInternal         = "An unexpected error occurred. Please try again."
	msgModelUnavailable = "The language model is not available right now."
)

type classified struct {
	code    int
	level   session.FlashLevel
	message string
}

// classify maps a service error onto an api code and the text shown to the user.
func classify(err error, maxUploadBytes int64) classified {
	var ingestErr *appErr.IngestError
	var upstreamErr *appErr.UpstreamError
	switch {
	case errors.Is(err, appErr.ErrNoSource):
		return classified{errcode.ErrNoSource, session.FlashWarning, msgNoSource}
	case errors.Is(err, appErr.ErrKnowledgeBaseNotLoaded):
		return classified{errcode.ErrKnowledgeBaseNotLoaded, session.FlashWarning, msgNotLoaded}
	case errors.Is(err, appErr.ErrRequestTooLarge):
		return classified{errcode.ErrRequestTooLarge, session.FlashError, service.RequestTooLargeMessage}
	case errors.Is(err, appErr.ErrFileTooLarge):
		return classified{errcode.ErrFileTooLarge, session.FlashError, "File is too large, the limit is " + formatUploadLimit(maxUploadBytes) + "."}
	case errors.Is(err, appErr.ErrUnsupportedFile):
		return classified{errcode.ErrInvalidFile, session.FlashError, "Unsupported file type. Upload a .pdf, .md or .txt file."}
	case errors.As(err, &ingestErr):
		return classified{errcode.ErrIngestFailed, session.FlashError, fmt.Sprintf("Failed to load %s: %v", ingestErr.Source, ingestErr.Err)}
	case errors.Is(err, ai.ErrUnavailable):
		return classified{errcode.ErrAIUnavailable, session.FlashError, msgModelUnavailable}
	case errors.As(err, &upstreamErr):
		return classified{errcode.ErrUpstream, session.FlashError, "An error occurred: " + upstreamErr.Err.Error()}
	case errors.Is(err, appErr.ErrInvalid):
		return classified{errcode.ErrInvalid, session.FlashWarning, "invalid request"}
	case errors.Is(err, appErr.ErrNotFound):
		return classified{errcode.ErrNotFound, session.FlashWarning, "not found"}
	default:
		return classified{errcode.ErrInternal, session.FlashError, msgInternal}
	}
}

func logError(c *gin.Context, err error) {
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	sessionID := ""
	if sess := middleware.GetSession(c); sess != nil {
		sessionID = sess.ID()
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("session", sessionID),
		zap.Error(err),
	)
}

func handleError(c *gin.Context, err error, maxUploadBytes int64) {
	if err == nil {
		return
	}
	logError(c, err)
	res := classify(err, maxUploadBytes)
	response.Error(c, res.code, res.message)
}
