package service

import (
	"strings"
	"testing"
	"time"

	"pairchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyResolverResolve(t *testing.T) {
	log := NewMessageLog()
	resolver := NewReplyResolver(120)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	reply := confirmedText("2", "James", "sounds good", base.Add(time.Second))
	reply.ReplyTo = &models.Reply{ID: "1"}
	log.Upsert(reply)

	// Target not present yet: the preview stays blank.
	resolver.Resolve(log)
	assert.False(t, reply.ReplyTo.Resolved())

	log.Upsert(confirmedText("1", "Lilly", "dinner at eight?", base))
	resolver.Resolve(log)

	require.True(t, reply.ReplyTo.Resolved())
	assert.Equal(t, "Lilly", reply.ReplyTo.Sender)
	assert.Equal(t, "dinner at eight?", reply.ReplyTo.Snippet)
}

func TestReplyResolverDoesNotRewriteResolved(t *testing.T) {
	log := NewMessageLog()
	resolver := NewReplyResolver(120)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	target := confirmedText("1", "Lilly", "original", base)
	log.Upsert(target)

	reply := confirmedText("2", "James", "re", base.Add(time.Second))
	reply.ReplyTo = &models.Reply{ID: "1", Sender: "Lilly", Snippet: "original"}
	log.Upsert(reply)

	target.Content = "edited"
	resolver.Resolve(log)

	// Already-resolved previews are stable across later mutations.
	assert.Equal(t, "original", reply.ReplyTo.Snippet)
}

func TestReplyResolverSnippetTruncation(t *testing.T) {
	resolver := NewReplyResolver(5)

	assert.Equal(t, "short", resolver.Snippet("short"))
	assert.Equal(t, "abcde…", resolver.Snippet("abcdefgh"))

	// Rune-aware, never byte-split.
	snippet := resolver.Snippet("héllö wörld")
	assert.Equal(t, "héllö…", snippet)
	assert.True(t, strings.HasSuffix(snippet, "…"))

	unbounded := NewReplyResolver(0)
	long := strings.Repeat("x", 500)
	assert.Equal(t, long, unbounded.Snippet(long))
}
