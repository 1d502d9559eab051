package enrich

import (
	"testing"
	"time"

	"msgvault/internal/chunker"
	"msgvault/internal/source"
)

func chunkOf(speakers []string, owners []bool) chunker.Chunk {
	ch := chunker.Chunk{Speakers: speakers}
	seen := map[string]bool{}
	for i, s := range speakers {
		ch.Messages = append(ch.Messages, source.RawMessage{IsOwner: owners[i]})
		if !seen[s] {
			seen[s] = true
			ch.Participants = append(ch.Participants, s)
		}
	}
	return ch
}

func TestPrimarySender(t *testing.T) {
	cases := []struct {
		name     string
		speakers []string
		owners   []bool
		want     string
	}{
		{
			name:     "most frequent non-owner wins",
			speakers: []string{"Alice", "Bob", "Bob", "Me"},
			owners:   []bool{false, false, false, true},
			want:     "Bob",
		},
		{
			name:     "tie breaks by first appearance",
			speakers: []string{"Alice", "Bob", "Alice", "Bob"},
			owners:   []bool{false, false, false, false},
			want:     "Alice",
		},
		{
			name:     "owner messages never count",
			speakers: []string{"Me", "Me", "Me", "Alice"},
			owners:   []bool{true, true, true, false},
			want:     "Alice",
		},
		{
			name:     "owner-only chunk keeps the owner",
			speakers: []string{"Me", "Me"},
			owners:   []bool{true, true},
			want:     chunker.OwnerLabel,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := Enrich(chunkOf(tc.speakers, tc.owners), time.UTC)
			if e.Sender != tc.want {
				t.Errorf("Sender = %q, want %q", e.Sender, tc.want)
			}
		})
	}
}

func TestSenderIsOwner(t *testing.T) {
	// 3 owner + 1 non-owner: strict majority.
	e := Enrich(chunkOf(
		[]string{"Me", "Me", "Me", "Alice"},
		[]bool{true, true, true, false},
	), time.UTC)
	if !e.SenderIsOwner {
		t.Error("3 of 4 owner messages must set SenderIsOwner")
	}

	// Exactly half is not a strict majority.
	e = Enrich(chunkOf(
		[]string{"Me", "Alice"},
		[]bool{true, false},
	), time.UTC)
	if e.SenderIsOwner {
		t.Error("1 of 2 owner messages must not set SenderIsOwner")
	}
}

func TestGroupClassification(t *testing.T) {
	// Three participants, no name: group.
	e := Enrich(chunkOf(
		[]string{"A", "B", "Me"},
		[]bool{false, false, true},
	), time.UTC)
	if !e.IsGroupChat || e.IsDM {
		t.Error("3 participants must classify as group")
	}

	// Two participants with an explicit group name: group.
	ch := chunkOf([]string{"A", "Me"}, []bool{false, true})
	ch.GroupName = "Family"
	e = Enrich(ch, time.UTC)
	if !e.IsGroupChat {
		t.Error("named chat must classify as group")
	}

	// Two participants, no name: DM.
	e = Enrich(chunkOf([]string{"A", "Me"}, []bool{false, true}), time.UTC)
	if !e.IsDM || e.IsGroupChat {
		t.Error("2 unnamed participants must classify as DM")
	}

	// Degenerate owner-only chunk is a DM.
	e = Enrich(chunkOf([]string{"Me"}, []bool{true}), time.UTC)
	if !e.IsDM {
		t.Error("owner-only chunk must classify as DM")
	}
}

func TestCalendarFields(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// Friday 2024-03-15 23:30 EDT is Saturday 03:30 UTC; the archive time
	// zone, not UTC, decides the calendar fields.
	ch := chunker.Chunk{StartTS: time.Date(2024, 3, 15, 23, 30, 0, 0, ny).Unix()}
	e := Enrich(ch, ny)
	if e.Year != 2024 || e.Month != 3 || e.Weekday != "friday" || e.Hour != 23 {
		t.Errorf("calendar = %d-%d %s %dh", e.Year, e.Month, e.Weekday, e.Hour)
	}

	e = Enrich(ch, time.UTC)
	if e.Weekday != "saturday" || e.Hour != 3 {
		t.Errorf("UTC calendar = %s %dh", e.Weekday, e.Hour)
	}
}
