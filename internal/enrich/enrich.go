// Package enrich derives the structured, filterable fields of a chunk. The
// derivation is a pure function of the chunk and the archive time zone.
package enrich

import (
	"strings"
	"time"

	"msgvault/internal/chunker"
)

// EnrichedChunk is a chunk plus its derived fields, ready for indexing. The
// embedding is attached later by the pipeline and may stay nil.
type EnrichedChunk struct {
	chunker.Chunk

	Sender        string
	SenderIsOwner bool
	IsGroupChat   bool
	IsDM          bool

	Year    int
	Month   int // 1-indexed
	Weekday string
	Hour    int

	Embedding []float64
}

// Enrich derives the structured fields of one chunk. Calendar fields come
// from the chunk start timestamp in loc; a nil loc falls back to time.Local.
func Enrich(ch chunker.Chunk, loc *time.Location) EnrichedChunk {
	if loc == nil {
		loc = time.Local
	}

	e := EnrichedChunk{Chunk: ch}
	e.Sender = primarySender(ch)
	e.SenderIsOwner = ownerMajority(ch)
	e.IsGroupChat = len(ch.Participants) > 2 || ch.GroupName != ""
	e.IsDM = !e.IsGroupChat

	start := time.Unix(ch.StartTS, 0).In(loc)
	e.Year = start.Year()
	e.Month = int(start.Month())
	e.Weekday = strings.ToLower(start.Weekday().String())
	e.Hour = start.Hour()

	return e
}

// primarySender picks the most frequent non-owner speaker, ties broken by
// first appearance. An owner-only chunk keeps the owner as sender.
func primarySender(ch chunker.Chunk) string {
	counts := make(map[string]int)
	var order []string
	for i, m := range ch.Messages {
		if m.IsOwner {
			continue
		}
		name := ch.Speakers[i]
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	if len(order) == 0 {
		return chunker.OwnerLabel
	}

	best := order[0]
	for _, name := range order[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}

// ownerMajority reports whether strictly more than half the messages are the
// owner's.
func ownerMajority(ch chunker.Chunk) bool {
	owner := 0
	for _, m := range ch.Messages {
		if m.IsOwner {
			owner++
		}
	}
	return owner*2 > len(ch.Messages)
}
