package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbassist/internal/middleware"
	"github.com/xxxsen/kbassist/internal/pkg/errcode"
	"github.com/xxxsen/kbassist/internal/pkg/response"
	"github.com/xxxsen/kbassist/internal/session"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterDeps struct {
	UI             *UIHandler
	Knowledge      *KnowledgeHandler
	Chat           *ChatHandler
	Sessions       *session.Store
	SessionSecret  []byte
	SessionTTL     time.Duration
	RateLimit      time.Duration
	CORSAllowlist  []string
	MaxUploadBytes int64
	DB             Pinger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(middleware.CORS(deps.CORSAllowlist))
	r.MaxMultipartMemory = deps.MaxUploadBytes
	r.SetHTMLTemplate(loadTemplates())

	r.GET("/api/v1/healthz", healthz(deps.DB))

	sessioned := r.Group("")
	sessioned.Use(middleware.Session(deps.Sessions, deps.SessionSecret, deps.SessionTTL))
	limited := middleware.RateLimit(deps.RateLimit)
	formLimited := middleware.RateLimitWith(deps.RateLimit, deps.UI.TooFast)

	sessioned.GET("/", deps.UI.Index)
	sessioned.POST("/kb/load", formLimited, deps.UI.Load)
	sessioned.POST("/chat", formLimited, deps.UI.Chat)
	sessioned.POST("/chat/clear", deps.UI.Clear)

	api := sessioned.Group("/api/v1")
	api.POST("/kb/load", limited, deps.Knowledge.Load)
	api.GET("/kb", deps.Knowledge.Status)
	api.DELETE("/kb", deps.Knowledge.Delete)
	api.POST("/kb/search", deps.Knowledge.Search)
	api.POST("/chat", limited, deps.Chat.Ask)
	api.GET("/chat/history", deps.Chat.History)
	api.DELETE("/chat/history", deps.Chat.ClearHistory)
	return r
}

func healthz(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logError(c, err)
				response.Error(c, errcode.ErrInternal, "database unavailable")
				return
			}
		}
		response.Success(c, gin.H{"status": http.StatusText(http.StatusOK)})
	}
}
