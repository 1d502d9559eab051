// Package chunker groups time-ordered raw messages into bounded
// conversational units. A chunk's identity is the content hash of its
// rendered transcript, so re-chunking the same window reproduces the same
// ids and dedup reduces to a set difference.
package chunker

import (
	"fmt"
	"strings"
	"time"

	"msgvault/internal/canonical"
	"msgvault/internal/source"
)

// OwnerLabel is how the archive owner renders in transcripts.
const OwnerLabel = "Me"

// MaxMessages caps a chunk; the 11th consecutive message starts a new one.
const MaxMessages = 10

// GapThreshold splits a chunk on silence. Inclusive: a gap of exactly five
// minutes starts a new chunk.
const GapThreshold = 5 * time.Minute

// Chunk is one retrieval unit: consecutive messages of one conversation
// within the gap and size bounds, with the rendered transcript that defines
// its id.
type Chunk struct {
	ID             string
	ConversationID string
	GroupName      string
	IsGroupHint    bool
	MessageIDs     []string
	Messages       []source.RawMessage
	// Speakers holds the resolved display name per message, parallel to
	// Messages, with the owner already rendered as OwnerLabel.
	Speakers      []string
	Participants  []string // unique speakers in first-appearance order
	StartTS       int64
	EndTS         int64
	Text          string
	HasAttachment bool
	HasImage      bool
}

// Chunker renders messages through a display-name capability and an archive
// time zone.
type Chunker struct {
	names source.NameResolver
	loc   *time.Location
}

// New builds a Chunker. A nil location falls back to time.Local.
func New(names source.NameResolver, loc *time.Location) *Chunker {
	if loc == nil {
		loc = time.Local
	}
	return &Chunker{names: names, loc: loc}
}

// Split cuts a time-ordered message sequence into chunks. A boundary starts
// when the conversation id changes, the gap since the previous message is at
// least GapThreshold, or the current chunk already holds MaxMessages.
func (c *Chunker) Split(msgs []source.RawMessage) []Chunk {
	var chunks []Chunk
	var current []source.RawMessage

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, c.build(current))
			current = nil
		}
	}

	for _, m := range msgs {
		if len(current) > 0 {
			prev := current[len(current)-1]
			gap := time.Duration(m.Timestamp-prev.Timestamp) * time.Second
			if m.ConversationID != prev.ConversationID ||
				gap >= GapThreshold ||
				len(current) >= MaxMessages {
				flush()
			}
		}
		current = append(current, m)
	}
	flush()

	return chunks
}

func (c *Chunker) build(msgs []source.RawMessage) Chunk {
	ch := Chunk{
		ConversationID: msgs[0].ConversationID,
		StartTS:        msgs[0].Timestamp,
		EndTS:          msgs[len(msgs)-1].Timestamp,
		Messages:       msgs,
	}

	seen := make(map[string]bool)
	var lines []string
	for _, m := range msgs {
		name := c.speakerName(m)
		ch.Speakers = append(ch.Speakers, name)
		if !seen[name] {
			seen[name] = true
			ch.Participants = append(ch.Participants, name)
		}
		ch.MessageIDs = append(ch.MessageIDs, m.ID)
		if m.GroupName != "" && ch.GroupName == "" {
			ch.GroupName = m.GroupName
		}
		ch.IsGroupHint = ch.IsGroupHint || m.IsGroupHint
		ch.HasAttachment = ch.HasAttachment || m.HasAttachment
		ch.HasImage = ch.HasImage || m.HasImage

		ts := time.Unix(m.Timestamp, 0).In(c.loc)
		lines = append(lines, fmt.Sprintf("[%s %s] %s", name, ts.Format("3:04 PM"), m.Text))
	}

	ch.Text = strings.Join(lines, "\n")
	ch.ID = canonical.ContentHash(ch.Text)
	return ch
}

func (c *Chunker) speakerName(m source.RawMessage) string {
	if m.IsOwner {
		return OwnerLabel
	}
	if c.names != nil {
		if name := c.names.ResolveDisplayName(m.SenderHandle); name != "" {
			return name
		}
	}
	return m.SenderHandle
}

// FilterChunks drops chunks whose transcript is shorter than minChars.
func FilterChunks(chunks []Chunk, minChars int) []Chunk {
	if minChars <= 0 {
		return chunks
	}
	var kept []Chunk
	for _, ch := range chunks {
		if len(ch.Text) >= minChars {
			kept = append(kept, ch)
		}
	}
	return kept
}

// DeduplicateChunks removes chunks whose id is already indexed.
func DeduplicateChunks(chunks []Chunk, existing map[string]bool) []Chunk {
	if len(existing) == 0 {
		return chunks
	}
	var fresh []Chunk
	for _, ch := range chunks {
		if !existing[ch.ID] {
			fresh = append(fresh, ch)
		}
	}
	return fresh
}
