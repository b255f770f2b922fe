package handler

import (
	"embed"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbassist/internal/middleware"
	"github.com/xxxsen/kbassist/internal/model"
	"github.com/xxxsen/kbassist/internal/service"
	"github.com/xxxsen/kbassist/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

type UIHandler struct {
	knowledge      *service.KnowledgeService
	chat           *service.ChatService
	maxUploadBytes int64
}

func NewUIHandler(knowledge *service.KnowledgeService, chat *service.ChatService, maxUploadBytes int64) *UIHandler {
	return &UIHandler{knowledge: knowledge, chat: chat, maxUploadBytes: maxUploadBytes}
}

type chatLine struct {
	Speaker string
	User    bool
	Text    string
	HTML    template.HTML
}

type indexPage struct {
	Flash       *session.Flash
	Loaded      bool
	Sources     []model.Source
	ChunkCount  int
	History     []chatLine
	UploadLimit string
}

func (h *UIHandler) Index(c *gin.Context) {
	sess := middleware.GetSession(c)
	page := indexPage{
		Flash:       sess.TakeFlash(),
		UploadLimit: formatUploadLimit(h.maxUploadBytes),
	}
	kb, err := h.knowledge.Status(c.Request.Context(), sess.Collection())
	if err != nil {
		logError(c, err)
	} else {
		page.Loaded = kb.Loaded()
		page.Sources = kb.Sources
		page.ChunkCount = kb.ChunkCount
	}
	for _, msg := range sess.History() {
		if msg.Role == model.ChatRoleUser {
			page.History = append(page.History, chatLine{Speaker: "You", User: true, Text: msg.Content})
			continue
		}
		page.History = append(page.History, chatLine{Speaker: "Assistant", HTML: renderMarkdown(msg.Content)})
	}
	c.HTML(http.StatusOK, "index.html", page)
}

func (h *UIHandler) Load(c *gin.Context) {
	sess := middleware.GetSession(c)
	req, closeFn, err := readLoadRequest(c)
	if err != nil {
		logError(c, err)
		sess.SetFlash(session.FlashError, "Failed to read the uploaded file.")
		h.redirect(c)
		return
	}
	defer closeFn()
	if _, err := h.knowledge.Load(c.Request.Context(), sess.Collection(), req); err != nil {
		h.flashError(c, sess, err)
		h.redirect(c)
		return
	}
	sess.SetLoaded(true)
	sess.SetFlash(session.FlashSuccess, msgLoaded)
	h.redirect(c)
}

func (h *UIHandler) Chat(c *gin.Context) {
	sess := middleware.GetSession(c)
	question := strings.TrimSpace(c.PostForm("question"))
	if question == "" {
		sess.SetFlash(session.FlashWarning, msgEmptyQuestion)
		h.redirect(c)
		return
	}
	if _, err := h.chat.Ask(c.Request.Context(), sess, question); err != nil {
		h.flashError(c, sess, err)
	}
	h.redirect(c)
}

func (h *UIHandler) Clear(c *gin.Context) {
	sess := middleware.GetSession(c)
	sess.ClearHistory()
	sess.SetFlash(session.FlashSuccess, msgHistoryCleared)
	h.redirect(c)
}

// TooFast answers a form resubmitted inside the rate limit window.
func (h *UIHandler) TooFast(c *gin.Context) {
	if sess := middleware.GetSession(c); sess != nil {
		sess.SetFlash(session.FlashWarning, msgTooFast)
	}
	h.redirect(c)
}

func (h *UIHandler) flashError(c *gin.Context, sess *session.Session, err error) {
	logError(c, err)
	res := classify(err, h.maxUploadBytes)
	sess.SetFlash(res.level, res.message)
}

func (h *UIHandler) redirect(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/")
}
