package service

import (
	"context"

	"pairchat/internal/constants"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeMessageID shortens message ids for logs.
func SanitizeMessageID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) > constants.DefaultMessageIDLogLength {
		return id[:constants.DefaultMessageIDLogLength] + "..."
	}
	return id
}

// SanitizeContent masks message bodies for logs. Full bodies are never
// logged; only a short prefix survives, and only when long enough to not be
// the whole message.
func SanitizeContent(content string) string {
	if content == "" {
		return ""
	}
	runes := []rune(content)
	if len(runes) <= constants.DefaultContentLogLength {
		return "***"
	}
	return string(runes[:constants.DefaultContentLogLength]) + "***"
}
