package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVerboseLogging(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerboseLogging(ctx))

	assert.True(t, IsVerboseLogging(context.WithValue(ctx, VerboseContextKey, true)))
	assert.False(t, IsVerboseLogging(context.WithValue(ctx, VerboseContextKey, false)))
	assert.False(t, IsVerboseLogging(context.WithValue(ctx, VerboseContextKey, "yes")))
}

func TestSanitizeMessageID(t *testing.T) {
	assert.Equal(t, "", SanitizeMessageID(""))
	assert.Equal(t, "short", SanitizeMessageID("short"))
	assert.Equal(t, "12345678...", SanitizeMessageID("123456789abcdef"))
}

func TestSanitizeContent(t *testing.T) {
	assert.Equal(t, "", SanitizeContent(""))
	assert.Equal(t, "***", SanitizeContent("hi"))
	assert.Equal(t, "***", SanitizeContent("exactly12chr"))
	assert.Equal(t, "a longer mes***", SanitizeContent("a longer message body"))
}
