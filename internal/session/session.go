package session

import (
	"sync"

	"github.com/xxxsen/kbassist/internal/model"
	"github.com/xxxsen/kbassist/internal/pkg/timeutil"
)

type FlashLevel string

const (
	FlashSuccess FlashLevel = "success"
	FlashWarning FlashLevel = "warning"
	FlashError   FlashLevel = "error"
)

type Flash struct {
	Level   FlashLevel
	Message string
}

// Session is the per-browser state: chat history, the one-shot status message
// and whether a knowledge base was loaded. The collection name is the session id.
type Session struct {
	id string

	mu      sync.Mutex
	history []model.ChatMessage
	flash   *Flash
	loaded  bool
}

func newSession(id string) *Session {
	return &Session{id: id}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Collection() string {
	return s.id
}

// AppendExchange records a question and its answer as one step.
func (s *Session) AppendExchange(question, answer string) {
	now := timeutil.NowUnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		model.ChatMessage{Role: model.ChatRoleUser, Content: question, Ctime: now},
		model.ChatMessage{Role: model.ChatRoleAssistant, Content: answer, Ctime: now},
	)
}

// History returns a copy of the messages, oldest first.
func (s *Session) History() []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Recent returns at most n of the latest messages, oldest first.
func (s *Session) Recent(n int) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]model.ChatMessage, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Session) SetFlash(level FlashLevel, message string) {
	s.mu.Lock()
	s.flash = &Flash{Level: level, Message: message}
	s.mu.Unlock()
}

// TakeFlash returns the pending flash message and clears it.
func (s *Session) TakeFlash() *Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flash
	s.flash = nil
	return f
}

func (s *Session) SetLoaded(loaded bool) {
	s.mu.Lock()
	s.loaded = loaded
	s.mu.Unlock()
}

func (s *Session) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}
