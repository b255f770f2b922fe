package model

type SourceKind string

const (
	SourceKindPDFURL  SourceKind = "pdf_url"
	SourceKindFile    SourceKind = "file"
	SourceKindWebsite SourceKind = "website"
)

// Source is one input of a knowledge base. Uploaded bytes live in the file store
// under FileKey only until text extraction finishes.
type Source struct {
	ID         string     `json:"id"`
	Collection string     `json:"collection"`
	Kind       SourceKind `json:"kind"`
	Name       string     `json:"name"`
	Title      string     `json:"title"`
	FileKey    string     `json:"-"`
	PageCount  int        `json:"page_count"`
	ChunkCount int        `json:"chunk_count"`
	Ctime      int64      `json:"ctime"`
}

type PageFormat string

const (
	PageFormatText     PageFormat = "text"
	PageFormatMarkdown PageFormat = "markdown"
)

// Page is a unit of extracted text: one PDF page, one web page or one uploaded file.
type Page struct {
	SourceID string     `json:"source_id"`
	URL      string     `json:"url"`
	Title    string     `json:"title"`
	Number   int        `json:"number"`
	Format   PageFormat `json:"format"`
	Text     string     `json:"text"`
}
