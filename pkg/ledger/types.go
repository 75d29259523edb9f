// Package ledger owns the memory-entry lifecycle for the agent: saving
// with truncation and deduplication, threshold and per-contact
// consolidation into episodic summaries, contact-profile derivation, and
// ranked retrieval blending semantic similarity with recency.
//
// Entries persist through a durable store; semantic recall goes through an
// optional embedding index. Both collaborators are injected at
// construction.
package ledger

import "time"

// EntryType classifies a memory entry. The type never changes after
// creation.
type EntryType string

const (
	// TypeShort is a raw conversational event.
	TypeShort EntryType = "short"

	// TypeLong is a durable fact worth keeping verbatim.
	TypeLong EntryType = "long"

	// TypeEpisodic is a compressed summary produced by consolidation.
	TypeEpisodic EntryType = "episodic"
)

// Entry is one memory record.
type Entry struct {
	ID        string            `json:"id"`
	Type      EntryType         `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Meta returns a metadata value, or "" when absent.
func (e *Entry) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// ContactProfile accumulates what the agent knows about one contact on one
// platform. Profiles are derived: they are upserted as a side effect of
// saves carrying source/contact metadata and never created independently.
type ContactProfile struct {
	Key         string    `json:"key"` // platform:contactId
	Platform    string    `json:"platform"`
	ContactID   string    `json:"contactId"`
	DisplayName string    `json:"displayName,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`
	Platforms   []string  `json:"platforms,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Well-known metadata keys.
const (
	// MetaSource is the originating platform ("telegram", "slack", ...).
	MetaSource = "source"

	// MetaSourceID is the contact identifier on that platform.
	MetaSourceID = "sourceId"

	// MetaSenderName is the contact's display name at save time.
	MetaSenderName = "senderName"

	// MetaRole is the speaker role ("user", "assistant").
	MetaRole = "role"

	// MetaMessageType describes the event kind ("message", "status", ...).
	MetaMessageType = "messageType"

	// MetaStatus carries status context for status events.
	MetaStatus = "status"

	// MetaSkill names the skill that produced a system-noise entry.
	MetaSkill = "skill"

	// MetaTool names the tool that produced a system-noise entry.
	MetaTool = "tool"

	// MetaImportant marks an entry for the daily log regardless of type.
	MetaImportant = "important"

	// MetaTruncated is set when content was cut to the maximum length.
	MetaTruncated = "truncated"
)

// Explicit dedup keys, checked in order. Two entries sharing any of these
// values inside the dedup window are duplicates.
var dedupKeys = []string{"messageId", "eventId", "statusMessageId"}
