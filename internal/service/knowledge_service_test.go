package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbassist/internal/config"
	"github.com/xxxsen/kbassist/internal/filestore"
	"github.com/xxxsen/kbassist/internal/model"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
)

type knowledgeFixture struct {
	svc      *KnowledgeService
	store    *memChunkStore
	loader   *fakeLoader
	embedder *keywordEmbedder
	files    filestore.Store
}

func newKnowledgeFixture(t *testing.T) *knowledgeFixture {
	t.Helper()
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	f := &knowledgeFixture{
		store:    newMemChunkStore(),
		loader:   &fakeLoader{fail: map[string]error{}},
		embedder: &keywordEmbedder{},
		files:    files,
	}
	f.svc = NewKnowledgeService(KnowledgeServiceDeps{
		Chunks:         f.store,
		Sources:        f.store,
		Files:          files,
		Loader:         f.loader,
		Chunker:        lineChunker{},
		Embedder:       f.embedder,
		MaxUploadBytes: 1024,
	})
	return f
}

func TestKnowledgeLoadNoSource(t *testing.T) {
	f := newKnowledgeFixture(t)
	_, err := f.svc.Load(context.Background(), "c1", LoadRequest{PDFURL: "  ", WebsiteURL: ""})
	require.ErrorIs(t, err, appErr.ErrNoSource)
	require.Zero(t, f.store.replaces)
}

func TestKnowledgeLoadAllSources(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	kb, err := f.svc.Load(ctx, "c1", LoadRequest{
		PDFURL:     "https://example.com/alpha.pdf",
		WebsiteURL: "https://example.com",
		File:       &UploadedFile{Name: "notes.md", Size: 5, Reader: strings.NewReader("hello")},
	})
	require.NoError(t, err)
	require.Len(t, kb.Sources, 3)
	require.Equal(t, 3, kb.ChunkCount)
	require.Equal(t, []model.SourceKind{model.SourceKindPDFURL, model.SourceKindFile, model.SourceKindWebsite},
		[]model.SourceKind{kb.Sources[0].Kind, kb.Sources[1].Kind, kb.Sources[2].Kind})
	require.NotEmpty(t, kb.Sources[1].FileKey)
	for _, task := range f.embedder.tasks {
		require.Equal(t, model.TaskRetrievalDocument, task)
	}

	status, err := f.svc.Status(ctx, "c1")
	require.NoError(t, err)
	require.True(t, status.Loaded())
	require.Equal(t, 3, status.ChunkCount)

	hits, err := f.svc.Search(ctx, "c1", "alpha question", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "https://example.com/alpha.pdf", hits[0].Chunk.SourceName)
	require.NotEmpty(t, hits[0].Chunk.ID)
}

func TestKnowledgeLoadIsAllOrNothing(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, "c1", LoadRequest{PDFURL: "https://example.com/alpha.pdf"})
	require.NoError(t, err)

	f.loader.fail["https://bad.example"] = &appErr.IngestError{Source: "https://bad.example", Err: appErr.ErrEmptyContent}
	_, err = f.svc.Load(ctx, "c1", LoadRequest{PDFURL: "https://example.com/other.pdf", WebsiteURL: "https://bad.example"})
	require.ErrorIs(t, err, appErr.ErrEmptyContent)
	require.Equal(t, 1, f.store.replaces)

	status, err := f.svc.Status(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, status.Sources, 1)
	require.Equal(t, "https://example.com/alpha.pdf", status.Sources[0].Name)

	f.embedder.err = errBoom
	_, err = f.svc.Load(ctx, "c1", LoadRequest{WebsiteURL: "https://example.com"})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, f.store.replaces)
}

func TestKnowledgeLoadRejectsFiles(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, "c1", LoadRequest{File: &UploadedFile{Name: "run.exe", Size: 3, Reader: strings.NewReader("abc")}})
	require.ErrorIs(t, err, appErr.ErrUnsupportedFile)

	_, err = f.svc.Load(ctx, "c1", LoadRequest{File: &UploadedFile{Name: "big.pdf", Size: 4096, Reader: strings.NewReader("x")}})
	require.ErrorIs(t, err, appErr.ErrFileTooLarge)

	_, err = f.svc.Load(ctx, "c1", LoadRequest{File: &UploadedFile{Name: "empty.txt", Size: 0, Reader: strings.NewReader("")}})
	require.ErrorIs(t, err, appErr.ErrEmptyContent)
	require.Empty(t, f.loader.calls)
}

func TestKnowledgeLoadDropsUnreadUploads(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	f.loader.fail["https://example.com/bad.pdf"] = appErr.ErrInvalid
	_, err := f.svc.Load(ctx, "c1", LoadRequest{
		PDFURL: "https://example.com/bad.pdf",
		File:   &UploadedFile{Name: "notes.txt", Size: 5, Reader: strings.NewReader("hello")},
	})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Equal(t, []string{"https://example.com/bad.pdf"}, f.loader.calls)
}

func TestKnowledgeDeleteAndSearchValidation(t *testing.T) {
	f := newKnowledgeFixture(t)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, "c1", LoadRequest{WebsiteURL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, "c1"))
	status, err := f.svc.Status(ctx, "c1")
	require.NoError(t, err)
	require.False(t, status.Loaded())

	_, err = f.svc.Search(ctx, "c1", "  ", 3)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
