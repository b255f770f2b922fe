package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/model"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
)

const (
	removedSelectors = "script, style, noscript, nav, header, footer, svg, iframe"
	blockSelectors   = "p, div, br, hr, li, tr, h1, h2, h3, h4, h5, h6, pre, blockquote, section, article, table"
)

type crawler struct {
	client   *http.Client
	maxBytes int64
	maxLinks int
}

// crawl visits start and then same-host links breadth first until maxLinks
// pages were read. Only the start page is required to load, and it must be html.
func (c *crawler) crawl(ctx context.Context, start *url.URL) ([]model.Page, error) {
	logger := logutil.GetLogger(ctx)
	queue := []*url.URL{start}
	seen := map[string]struct{}{normalizeLink(start): {}}
	var pages []model.Page
	for len(queue) > 0 && len(pages) < c.maxLinks {
		current := queue[0]
		queue = queue[1:]
		res, err := fetch(ctx, c.client, current, c.maxBytes)
		if err != nil {
			if current == start {
				return nil, err
			}
			logger.Warn("skip linked page", zap.String("url", current.String()), zap.Error(err))
			continue
		}
		if !isHTML(res.ContentType) {
			if current == start {
				return nil, fmt.Errorf("%w: %s is not an html page (%s)", appErr.ErrInvalid, start, res.ContentType)
			}
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
		if err != nil {
			if current == start {
				return nil, err
			}
			continue
		}
		for _, link := range sameHostLinks(doc, res.URL) {
			key := normalizeLink(link)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			queue = append(queue, link)
		}
		title, text := readableText(doc)
		if text == "" {
			continue
		}
		pages = append(pages, model.Page{
			URL:    res.URL.String(),
			Title:  title,
			Number: len(pages) + 1,
			Format: model.PageFormatText,
			Text:   text,
		})
	}
	logger.Debug("website crawl finished", zap.String("url", start.String()), zap.Int("pages", len(pages)))
	return pages, nil
}

func readableText(doc *goquery.Document) (string, string) {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(removedSelectors).Remove()
	doc.Find(blockSelectors).AppendHtml("\n")
	body := doc.Find("body")
	if body.Length() == 0 {
		return title, cleanText(doc.Text())
	}
	return title, cleanText(body.Text())
}

func sameHostLinks(doc *goquery.Document, base *url.URL) []*url.URL {
	var out []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		link := base.ResolveReference(ref)
		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		if !strings.EqualFold(link.Host, base.Host) {
			return
		}
		link.Fragment = ""
		out = append(out, link)
	})
	return out
}

func normalizeLink(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

func isHTML(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return contentType == "" || strings.Contains(contentType, "html")
}
