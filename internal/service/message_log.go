package service

import (
	"sort"

	"pairchat/internal/models"
)

type logEntry struct {
	msg *models.Message
	seq uint64
}

// MessageLog holds the canonical ordered, duplicate-free set of messages.
// It has no side effects beyond its own state and issues no network calls.
//
// The log itself is not safe for concurrent use: all mutation flows are
// serialized by the engine's mutex, so the log carries no locking of its
// own.
type MessageLog struct {
	entries []logEntry
	index   map[string]int
	nextSeq uint64
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		index: make(map[string]int),
	}
}

// Upsert inserts the message if its id is unseen, otherwise replaces the
// existing entry in place. A replaced entry keeps its insertion rank, so
// timestamp ties keep resolving the same way; its sorted position follows
// the (possibly new) timestamp.
func (l *MessageLog) Upsert(msg *models.Message) {
	if idx, ok := l.index[msg.ID()]; ok {
		l.entries[idx].msg = msg
		return
	}

	l.entries = append(l.entries, logEntry{msg: msg, seq: l.nextSeq})
	l.index[msg.ID()] = len(l.entries) - 1
	l.nextSeq++
}

// ReplaceID swaps the entry stored under oldID for msg, keeping the entry's
// insertion rank. This is the reconciliation primitive: a provisional entry
// replaced by its confirmed counterpart. Returns false when oldID is absent.
func (l *MessageLog) ReplaceID(oldID string, msg *models.Message) bool {
	idx, ok := l.index[oldID]
	if !ok {
		return false
	}

	delete(l.index, oldID)
	l.entries[idx].msg = msg
	l.index[msg.ID()] = idx
	return true
}

// Remove deletes the entry with the given id. No-op if absent.
func (l *MessageLog) Remove(id string) bool {
	idx, ok := l.index[id]
	if !ok {
		return false
	}

	delete(l.index, id)
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	for i := idx; i < len(l.entries); i++ {
		l.index[l.entries[i].msg.ID()] = i
	}
	return true
}

// Get returns the message stored under id.
func (l *MessageLog) Get(id string) (*models.Message, bool) {
	idx, ok := l.index[id]
	if !ok {
		return nil, false
	}
	return l.entries[idx].msg, true
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	return len(l.entries)
}

// All returns the entries in insertion order. Callers must not retain the
// slice across mutations.
func (l *MessageLog) All() []*models.Message {
	msgs := make([]*models.Message, len(l.entries))
	for i, e := range l.entries {
		msgs[i] = e.msg
	}
	return msgs
}

// FindProvisional returns the first provisional entry, in insertion order,
// matching the predicate.
func (l *MessageLog) FindProvisional(match func(*models.Message) bool) (*models.Message, bool) {
	for _, e := range l.entries {
		if e.msg.Ref.Provisional() && match(e.msg) {
			return e.msg, true
		}
	}
	return nil, false
}

// Snapshot produces the ordered sequence for rendering: timestamp
// ascending, ties broken by insertion order.
func (l *MessageLog) Snapshot() []*models.Message {
	ordered := make([]logEntry, len(l.entries))
	copy(ordered, l.entries)

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].msg.Timestamp.Equal(ordered[j].msg.Timestamp) {
			return ordered[i].seq < ordered[j].seq
		}
		return ordered[i].msg.Timestamp.Before(ordered[j].msg.Timestamp)
	})

	msgs := make([]*models.Message, len(ordered))
	for i, e := range ordered {
		msgs[i] = e.msg
	}
	return msgs
}
