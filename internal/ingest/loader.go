package ingest

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/config"
	"github.com/xxxsen/kbassist/internal/filestore"
	"github.com/xxxsen/kbassist/internal/model"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
)

var fileFormats = map[string]model.PageFormat{
	".pdf":      "",
	".md":       model.PageFormatMarkdown,
	".markdown": model.PageFormatMarkdown,
	".txt":      model.PageFormatText,
}

// SupportedFile reports whether an uploaded file name has an extension Load can read.
func SupportedFile(name string) bool {
	_, ok := fileFormats[strings.ToLower(filepath.Ext(name))]
	return ok
}

type Loader struct {
	store   filestore.Store
	client  *http.Client
	cfg     config.IngestConfig
	crawler *crawler
}

func NewLoader(store filestore.Store, cfg config.IngestConfig) *Loader {
	client := &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second}
	return &Loader{
		store:  store,
		client: client,
		cfg:    cfg,
		crawler: &crawler{
			client:   client,
			maxBytes: cfg.MaxDownloadBytes,
			maxLinks: cfg.WebsiteMaxLinks,
		},
	}
}

// Load extracts the text pages of one source. Staged uploads are removed from
// the file store whether extraction succeeds or not.
func (l *Loader) Load(ctx context.Context, src *model.Source) ([]model.Page, error) {
	pages, err := l.load(ctx, src)
	if err != nil {
		return nil, &appErr.IngestError{Source: src.Name, Err: err}
	}
	if len(pages) == 0 {
		return nil, &appErr.IngestError{Source: src.Name, Err: appErr.ErrEmptyContent}
	}
	for i := range pages {
		pages[i].SourceID = src.ID
		if pages[i].URL == "" {
			pages[i].URL = src.Name
		}
	}
	if src.Title == "" {
		src.Title = pages[0].Title
	}
	src.PageCount = len(pages)
	logutil.GetLogger(ctx).Info("source loaded",
		zap.String("kind", string(src.Kind)),
		zap.String("name", src.Name),
		zap.Int("pages", len(pages)))
	return pages, nil
}

func (l *Loader) load(ctx context.Context, src *model.Source) ([]model.Page, error) {
	switch src.Kind {
	case model.SourceKindPDFURL:
		return l.loadPDFURL(ctx, src.Name)
	case model.SourceKindWebsite:
		u, err := parseHTTPURL(src.Name)
		if err != nil {
			return nil, err
		}
		return l.crawler.crawl(ctx, u)
	case model.SourceKindFile:
		return l.loadFile(ctx, src)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", appErr.ErrInvalid, src.Kind)
	}
}

func (l *Loader) loadPDFURL(ctx context.Context, raw string) ([]model.Page, error) {
	u, err := parseHTTPURL(raw)
	if err != nil {
		return nil, err
	}
	res, err := fetch(ctx, l.client, u, l.cfg.MaxDownloadBytes)
	if err != nil {
		return nil, err
	}
	return extractPDF(res.Body)
}

func (l *Loader) loadFile(ctx context.Context, src *model.Source) ([]model.Page, error) {
	if src.FileKey == "" {
		return nil, fmt.Errorf("%w: file was not staged", appErr.ErrInvalid)
	}
	defer func() {
		if err := l.store.Delete(context.WithoutCancel(ctx), src.FileKey); err != nil {
			logutil.GetLogger(ctx).Warn("remove staged file failed", zap.String("key", src.FileKey), zap.Error(err))
		}
	}()
	ext := strings.ToLower(filepath.Ext(src.Name))
	format, ok := fileFormats[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", appErr.ErrUnsupportedFile, ext)
	}
	rc, err := l.store.Open(ctx, src.FileKey)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	data, err := readLimited(rc, l.cfg.MaxUploadBytes)
	_ = rc.Close()
	if err != nil {
		return nil, err
	}
	if ext == ".pdf" {
		return extractPDF(data)
	}
	text := string(data)
	if format == model.PageFormatText {
		text = cleanText(text)
	} else {
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return nil, nil
	}
	return []model.Page{{
		Title:  strings.TrimSuffix(filepath.Base(src.Name), ext),
		Number: 1,
		Format: format,
		Text:   text,
	}}, nil
}
