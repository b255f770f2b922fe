package errors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalid                = errors.New("invalid")
	ErrTooMany                = errors.New("too many requests")
	ErrInternal               = errors.New("internal")
	ErrNoSource               = errors.New("no knowledge source configured")
	ErrEmptyContent           = errors.New("no text could be extracted")
	ErrUnsupportedFile        = errors.New("unsupported file type")
	ErrFileTooLarge           = errors.New("file too large")
	ErrKnowledgeBaseNotLoaded = errors.New("knowledge base not loaded")
	ErrRequestTooLarge        = errors.New("request too large")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IngestError marks a failure while extracting text from one source.
type IngestError struct {
	Source string
	Err    error
}

func (e *IngestError) Error() string {
	return "load " + e.Source + ": " + e.Err.Error()
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// UpstreamError wraps a failure returned by a hosted provider.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
