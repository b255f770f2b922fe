package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/kbassist/internal/ai"
	"github.com/xxxsen/kbassist/internal/model"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
	"github.com/xxxsen/kbassist/internal/session"
)

const RequestTooLargeMessage = "The request is too large for the model to handle. Please shorten your query or provide more specific input."

const chatInstructions = `You are a helpful assistant answering questions about the user's knowledge base.
Use the numbered references below when they are relevant and say so when they do not contain the answer.
Answer in markdown.`

type ChatConfig struct {
	TopK            int
	HistoryMessages int
	MaxSnippetChars int
	MaxInputChars   int
}

type ChatService struct {
	knowledge *KnowledgeService
	generator ai.IGenerator
	cfg       ChatConfig
}

func NewChatService(knowledge *KnowledgeService, generator ai.IGenerator, cfg ChatConfig) *ChatService {
	return &ChatService{knowledge: knowledge, generator: generator, cfg: cfg}
}

// Ask answers question from the session's knowledge base. History is only
// extended when the model produced an answer.
func (s *ChatService) Ask(ctx context.Context, sess *session.Session, question string) (*model.ChatReply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, appErr.ErrInvalid
	}
	logger := logutil.GetLogger(ctx).With(zap.String("session", sess.ID()))
	if err := s.ensureLoaded(ctx, sess); err != nil {
		return nil, err
	}
	hits, err := s.knowledge.Search(ctx, sess.Collection(), question, s.cfg.TopK)
	if err != nil {
		logger.Error("retrieve context failed", zap.Error(err))
		return nil, err
	}
	prompt := s.buildPrompt(sess.Recent(s.cfg.HistoryMessages), hits, question)
	answer, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("generate answer failed", zap.Int("prompt_chars", utf8.RuneCountInString(prompt)), zap.Error(err))
		if strings.Contains(err.Error(), "Request too large") {
			return nil, fmt.Errorf("%w: %v", appErr.ErrRequestTooLarge, err)
		}
		return nil, &appErr.UpstreamError{Provider: "generator", Err: err}
	}
	sess.AppendExchange(question, answer)
	return &model.ChatReply{Answer: answer, Sources: hits, History: sess.History()}, nil
}

// ensureLoaded accepts sessions that loaded a knowledge base or whose
// collection still has chunks from before a restart.
func (s *ChatService) ensureLoaded(ctx context.Context, sess *session.Session) error {
	if sess.Loaded() {
		return nil
	}
	kb, err := s.knowledge.Status(ctx, sess.Collection())
	if err != nil {
		return err
	}
	if !kb.Loaded() || kb.ChunkCount == 0 {
		return appErr.ErrKnowledgeBaseNotLoaded
	}
	sess.SetLoaded(true)
	return nil
}

func (s *ChatService) buildPrompt(history []model.ChatMessage, hits []model.SearchHit, question string) string {
	refs := buildReferences(hits, s.cfg.MaxSnippetChars)
	for {
		prompt := composePrompt(history, refs, question)
		if s.cfg.MaxInputChars <= 0 || utf8.RuneCountInString(prompt) <= s.cfg.MaxInputChars || len(history) == 0 {
			return prompt
		}
		history = history[1:]
	}
}

func buildReferences(hits []model.SearchHit, maxChars int) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, hit := range hits {
		snippet := hit.Chunk.Content
		if maxChars > 0 && utf8.RuneCountInString(snippet) > maxChars {
			snippet = string([]rune(snippet)[:maxChars]) + "…"
		}
		label := hit.Chunk.SourceName
		if label == "" {
			label = "unknown"
		}
		if hit.Chunk.Page > 0 {
			label = fmt.Sprintf("%s, page %d", label, hit.Chunk.Page)
		}
		sb.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, snippet))
	}
	return sb.String()
}

func composePrompt(history []model.ChatMessage, refs string, question string) string {
	var sb strings.Builder
	sb.WriteString(chatInstructions)
	sb.WriteString("\n\n<<REF>>\n")
	if refs == "" {
		sb.WriteString("(no matching references)\n")
	} else {
		sb.WriteString(refs)
	}
	sb.WriteString("<<END>>\n")
	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, msg := range history {
			speaker := "User"
			if msg.Role == model.ChatRoleAssistant {
				speaker = "Assistant"
			}
			sb.WriteString(speaker)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nUser: ")
	sb.WriteString(question)
	sb.WriteString("\nAssistant:")
	return sb.String()
}
