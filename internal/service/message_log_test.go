package service

import (
	"fmt"
	"testing"
	"time"

	"pairchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageLogUpsert(t *testing.T) {
	log := NewMessageLog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	log.Upsert(confirmedText("1", "Lilly", "hello", base))
	log.Upsert(confirmedText("2", "James", "hi", base.Add(time.Second)))
	assert.Equal(t, 2, log.Len())

	// Same id replaces, never duplicates.
	log.Upsert(confirmedText("1", "Lilly", "hello edited", base))
	assert.Equal(t, 2, log.Len())

	msg, ok := log.Get("1")
	require.True(t, ok)
	assert.Equal(t, "hello edited", msg.Content)
}

func TestMessageLogReplaceID(t *testing.T) {
	log := NewMessageLog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	provisional := &models.Message{
		Ref:       models.ProvisionalTextRef("abc"),
		Sender:    "Lilly",
		Content:   "hi",
		Timestamp: base,
	}
	log.Upsert(provisional)
	log.Upsert(confirmedText("2", "James", "later", base.Add(time.Second)))

	confirmed := confirmedText("42", "Lilly", "hi", base)
	require.True(t, log.ReplaceID(provisional.ID(), confirmed))

	_, ok := log.Get(provisional.ID())
	assert.False(t, ok, "provisional id should be gone after replacement")

	got, ok := log.Get("42")
	require.True(t, ok)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, 2, log.Len())

	// Replacement keeps the entry's position in the ordered sequence.
	snapshot := log.Snapshot()
	assert.Equal(t, "42", snapshot[0].ID())
	assert.Equal(t, "2", snapshot[1].ID())

	assert.False(t, log.ReplaceID("missing", confirmed))
}

func TestMessageLogRemove(t *testing.T) {
	log := NewMessageLog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		log.Upsert(confirmedText(fmt.Sprintf("%d", i), "Lilly", "m", base.Add(time.Duration(i)*time.Second)))
	}

	require.True(t, log.Remove("1"))
	assert.Equal(t, 2, log.Len())
	_, ok := log.Get("1")
	assert.False(t, ok)

	// Index stays consistent after the shift.
	msg, ok := log.Get("2")
	require.True(t, ok)
	assert.Equal(t, "2", msg.ID())

	assert.False(t, log.Remove("1"))
}

func TestMessageLogSnapshotOrdering(t *testing.T) {
	log := NewMessageLog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of timestamp order.
	log.Upsert(confirmedText("b", "James", "second", base.Add(2*time.Second)))
	log.Upsert(confirmedText("a", "Lilly", "first", base))
	log.Upsert(confirmedText("tie-late", "James", "tie two", base.Add(time.Second)))
	log.Upsert(confirmedText("tie-early", "Lilly", "tie one", base.Add(time.Second)))

	snapshot := log.Snapshot()
	ids := make([]string, len(snapshot))
	for i, m := range snapshot {
		ids[i] = m.ID()
	}

	// Timestamp ascending, equal timestamps in insertion order.
	assert.Equal(t, []string{"a", "tie-late", "tie-early", "b"}, ids)
}

func TestMessageLogFindProvisional(t *testing.T) {
	log := NewMessageLog()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	log.Upsert(confirmedText("1", "Lilly", "dup", base))
	first := &models.Message{Ref: models.ProvisionalTextRef("one"), Sender: "Lilly", Content: "dup", Timestamp: base}
	second := &models.Message{Ref: models.ProvisionalTextRef("two"), Sender: "Lilly", Content: "dup", Timestamp: base}
	log.Upsert(first)
	log.Upsert(second)

	// Confirmed entries never match; the earliest provisional wins.
	found, ok := log.FindProvisional(func(m *models.Message) bool {
		return m.Content == "dup"
	})
	require.True(t, ok)
	assert.Equal(t, first.ID(), found.ID())

	_, ok = log.FindProvisional(func(m *models.Message) bool { return m.Content == "nope" })
	assert.False(t, ok)
}
