package service

// ReplyResolver fills in denormalized reply previews. It is pure and total:
// it never fails and never blocks. An unresolved reply stays blank until its
// target arrives and is re-checked on the next mutation; there is no upper
// bound on how long that takes.
type ReplyResolver struct {
	snippetMaxLen int
}

// NewReplyResolver creates a resolver that truncates snippets to maxLen
// runes.
func NewReplyResolver(maxLen int) *ReplyResolver {
	return &ReplyResolver{snippetMaxLen: maxLen}
}

// Resolve populates sender and content snippet for every message whose
// reply reference is set but unresolved and whose target is in the log.
// Runs after every log mutation.
func (r *ReplyResolver) Resolve(log *MessageLog) {
	for _, msg := range log.All() {
		if msg.ReplyTo == nil || msg.ReplyTo.Resolved() {
			continue
		}

		target, ok := log.Get(msg.ReplyTo.ID)
		if !ok {
			continue
		}

		msg.ReplyTo.Sender = target.Sender
		msg.ReplyTo.Snippet = r.snippet(target.Content)
	}
}

// Snippet exposes the truncation rule so staged sends can prefill previews
// the same way.
func (r *ReplyResolver) Snippet(content string) string {
	return r.snippet(content)
}

func (r *ReplyResolver) snippet(content string) string {
	runes := []rune(content)
	if r.snippetMaxLen <= 0 || len(runes) <= r.snippetMaxLen {
		return content
	}
	return string(runes[:r.snippetMaxLen]) + "…"
}
