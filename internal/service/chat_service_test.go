package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/kbassist/internal/model"
	appErr "github.com/xxxsen/kbassist/internal/pkg/errors"
	"github.com/xxxsen/kbassist/internal/session"
)

func newChatFixture(t *testing.T) (*ChatService, *knowledgeFixture, *recordingGenerator) {
	t.Helper()
	kf := newKnowledgeFixture(t)
	gen := &recordingGenerator{answer: "**42**"}
	chat := NewChatService(kf.svc, gen, ChatConfig{TopK: 2, HistoryMessages: 2, MaxSnippetChars: 100})
	return chat, kf, gen
}

func TestAskRequiresQuestionAndKnowledgeBase(t *testing.T) {
	chat, _, gen := newChatFixture(t)
	sess := session.NewStore(10, time.Hour).New()

	_, err := chat.Ask(context.Background(), sess, "   ")
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = chat.Ask(context.Background(), sess, "what?")
	require.ErrorIs(t, err, appErr.ErrKnowledgeBaseNotLoaded)
	require.Empty(t, gen.prompts)
	require.Empty(t, sess.History())
}

func TestAskAppendsHistoryInOrder(t *testing.T) {
	chat, kf, gen := newChatFixture(t)
	ctx := context.Background()
	sess := session.NewStore(10, time.Hour).New()
	_, err := kf.svc.Load(ctx, sess.Collection(), LoadRequest{PDFURL: "https://example.com/alpha.pdf", WebsiteURL: "https://example.com"})
	require.NoError(t, err)

	reply, err := chat.Ask(ctx, sess, "tell me about alpha")
	require.NoError(t, err)
	require.Equal(t, "**42**", reply.Answer)
	require.Len(t, reply.Sources, 2)
	require.Equal(t, "https://example.com/alpha.pdf", reply.Sources[0].Chunk.SourceName)
	require.Contains(t, gen.prompts[0], "[1] (https://example.com/alpha.pdf, page 1) text of https://example.com/alpha.pdf")
	require.Contains(t, gen.prompts[0], "User: tell me about alpha")
	require.Equal(t, model.TaskRetrievalQuery, kf.embedder.tasks[len(kf.embedder.tasks)-1])

	gen.answer = "second answer"
	reply, err = chat.Ask(ctx, sess, "and then?")
	require.NoError(t, err)
	require.Contains(t, gen.prompts[1], "Conversation so far:\nUser: tell me about alpha\nAssistant: **42**\n")

	contents := make([]string, 0, len(reply.History))
	for _, m := range reply.History {
		contents = append(contents, string(m.Role)+":"+m.Content)
	}
	require.Equal(t, []string{
		"user:tell me about alpha",
		"assistant:**42**",
		"user:and then?",
		"assistant:second answer",
	}, contents)
}

func TestAskFailureKeepsHistory(t *testing.T) {
	chat, kf, gen := newChatFixture(t)
	ctx := context.Background()
	sess := session.NewStore(10, time.Hour).New()
	_, err := kf.svc.Load(ctx, sess.Collection(), LoadRequest{WebsiteURL: "https://example.com"})
	require.NoError(t, err)

	gen.err = errors.New("groq request failed: 413 Payload Too Large: Request too large for model")
	_, err = chat.Ask(ctx, sess, "q")
	require.ErrorIs(t, err, appErr.ErrRequestTooLarge)
	require.Empty(t, sess.History())

	gen.err = errBoom
	_, err = chat.Ask(ctx, sess, "q")
	var upstream *appErr.UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, sess.History())
}

func TestAskUsesPersistedKnowledgeBaseAfterRestore(t *testing.T) {
	chat, kf, _ := newChatFixture(t)
	ctx := context.Background()
	store := session.NewStore(10, time.Hour)
	first := store.New()
	_, err := kf.svc.Load(ctx, first.Collection(), LoadRequest{WebsiteURL: "https://example.com"})
	require.NoError(t, err)

	store.Remove(first.ID())
	restored, wasRestored := store.Get(first.ID())
	require.True(t, wasRestored)
	_, err = chat.Ask(ctx, restored, "still there?")
	require.NoError(t, err)
	require.True(t, restored.Loaded())
}

func TestBuildPromptTrimsHistoryToBudget(t *testing.T) {
	chat := &ChatService{cfg: ChatConfig{MaxInputChars: 400}}
	history := []model.ChatMessage{
		{Role: model.ChatRoleUser, Content: strings.Repeat("old ", 50)},
		{Role: model.ChatRoleAssistant, Content: "short"},
	}
	prompt := chat.buildPrompt(history, nil, "q")
	require.NotContains(t, prompt, "old old")
	require.Contains(t, prompt, "(no matching references)")
}

func TestBuildReferencesTruncates(t *testing.T) {
	refs := buildReferences([]model.SearchHit{{Chunk: model.Chunk{Content: "abcdefghij"}}}, 4)
	require.Equal(t, "[1] (unknown) abcd…\n", refs)
}
