package model

type ChunkType string

const (
	ChunkTypeText  ChunkType = "text"
	ChunkTypeCode  ChunkType = "code"
	ChunkTypeMixed ChunkType = "mixed"
)

type Chunk struct {
	ID          string    `json:"id"`
	Collection  string    `json:"collection"`
	SourceID    string    `json:"source_id"`
	SourceName  string    `json:"source_name"`
	Page        int       `json:"page"`
	Position    int       `json:"position"`
	ChunkType   ChunkType `json:"chunk_type"`
	Content     string    `json:"content"`
	TokenCount  int       `json:"token_count"`
	ContentHash string    `json:"content_hash"`
	Embedding   []float32 `json:"-"`
	Ctime       int64     `json:"ctime"`
}

type SearchHit struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}
