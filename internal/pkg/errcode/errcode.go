package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrNotFound
	ErrInvalid
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrFileTooLarge
	ErrUploadFailed
	ErrNoSource
	ErrIngestFailed
	ErrKnowledgeBaseNotLoaded
	ErrRequestTooLarge
	ErrUpstream
	ErrAIUnavailable
)
