package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbassist/internal/config"
	"github.com/xxxsen/kbassist/internal/filestore"
	"github.com/xxxsen/kbassist/internal/handler"
	"github.com/xxxsen/kbassist/internal/ingest"
	"github.com/xxxsen/kbassist/internal/model"
	"github.com/xxxsen/kbassist/internal/service"
	"github.com/xxxsen/kbassist/internal/session"
)

type memKnowledgeStore struct {
	mu      sync.Mutex
	sources map[string][]model.Source
	chunks  map[string][]model.Chunk
}

func (m *memKnowledgeStore) Replace(ctx context.Context, collection string, sources []model.Source, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[collection] = sources
	m.chunks[collection] = chunks
	return nil
}

func (m *memKnowledgeStore) Search(ctx context.Context, collection string, vec []float32, k int) ([]model.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []model.SearchHit
	for _, c := range m.chunks[collection] {
		if len(hits) == k {
			break
		}
		hits = append(hits, model.SearchHit{Chunk: c, Score: 1})
	}
	return hits, nil
}

func (m *memKnowledgeStore) CountByCollection(ctx context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[collection]), nil
}

func (m *memKnowledgeStore) DeleteCollections(ctx context.Context, collections []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range collections {
		delete(m.sources, c)
		delete(m.chunks, c)
	}
	return nil
}

func (m *memKnowledgeStore) ListByCollection(ctx context.Context, collection string) ([]model.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Source{}, m.sources[collection]...), nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (constEmbedder) ModelName() string {
	return "test/const"
}

type scriptedGenerator struct {
	mu      sync.Mutex
	answers []string
	err     error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if len(g.answers) == 0 {
		return "ok", nil
	}
	answer := g.answers[0]
	g.answers = g.answers[1:]
	return answer, nil
}

type testApp struct {
	router http.Handler
	gen    *scriptedGenerator
}

func setupRouter(t *testing.T, opts ...func(*handler.RouterDeps)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	ingestCfg := config.IngestConfig{
		MaxUploadBytes:   1 << 20,
		MaxDownloadBytes: 1 << 20,
		HTTPTimeout:      5,
		WebsiteMaxLinks:  2,
		ChunkSize:        200,
		ChunkOverlap:     20,
	}
	store := &memKnowledgeStore{sources: map[string][]model.Source{}, chunks: map[string][]model.Chunk{}}
	gen := &scriptedGenerator{}
	knowledge := service.NewKnowledgeService(service.KnowledgeServiceDeps{
		Chunks:         store,
		Sources:        store,
		Files:          files,
		Loader:         ingest.NewLoader(files, ingestCfg),
		Chunker:        ingest.NewChunker(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap, nil),
		Embedder:       constEmbedder{},
		MaxUploadBytes: ingestCfg.MaxUploadBytes,
	})
	chat := service.NewChatService(knowledge, gen, service.ChatConfig{TopK: 3, HistoryMessages: 4, MaxSnippetChars: 500})
	deps := handler.RouterDeps{
		UI:             handler.NewUIHandler(knowledge, chat, ingestCfg.MaxUploadBytes),
		Knowledge:      handler.NewKnowledgeHandler(knowledge, ingestCfg.MaxUploadBytes, 3),
		Chat:           handler.NewChatHandler(chat),
		Sessions:       session.NewStore(100, time.Hour),
		SessionSecret:  []byte("test-secret"),
		SessionTTL:     time.Hour,
		MaxUploadBytes: ingestCfg.MaxUploadBytes,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &testApp{router: handler.NewRouter(deps), gen: gen}
}

// browser keeps the session cookie between requests like a real browser.
type browser struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func (a *testApp) newBrowser(t *testing.T) *browser {
	return &browser{t: t, router: a.router, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	resp := httptest.NewRecorder()
	b.router.ServeHTTP(resp, req)
	for _, c := range resp.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return resp
}

func (b *browser) page() string {
	resp := b.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(b.t, http.StatusOK, resp.Code)
	return resp.Body.String()
}

func (b *browser) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postMultipart(path string, fields map[string]string, fileName string, content []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(b.t, w.WriteField(k, v))
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(b.t, err)
		_, err = io.Copy(part, bytes.NewReader(content))
		require.NoError(b.t, err)
	}
	require.NoError(b.t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return b.do(req)
}

func (b *browser) postJSON(path string, payload interface{}) *httptest.ResponseRecorder {
	data, err := json.Marshal(payload)
	require.NoError(b.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, resp *httptest.ResponseRecorder) envelope {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	return env
}

func requireRedirectHome(t *testing.T, resp *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, resp.Code, resp.Body.String())
	require.Equal(t, "/", resp.Header().Get("Location"))
}

func markdownDoc(title string) []byte {
	return []byte(fmt.Sprintf("# %s\n\nThe knowledge base explains %s in detail.\n\n## Usage\n\nRun the tool.\n", title, title))
}
