package search

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"msgvault/internal/chunker"
	"msgvault/internal/docstore"
)

// Result is the shared output shape of every search mode. Ref is the stable
// deep-link reference; any citation of the text must carry it.
type Result struct {
	Ref          string   `json:"ref"`
	ChatLabel    string   `json:"chat_label"`
	Participants []string `json:"participants"`
	Sender       string   `json:"sender"`
	Timestamp    string   `json:"timestamp"`
	RelativeTime string   `json:"relative_time"`
	HasImage     bool     `json:"has_image"`
	IsGroupChat  bool     `json:"is_group_chat"`
	Text         string   `json:"text"`
	Score        float64  `json:"score"`

	startTS int64
}

const timestampLayout = "Jan 02, 2006 at 3:04 PM"

func (e *Engine) format(doc docstore.Document, score float64) Result {
	ts := time.Unix(doc.StartTS, 0).In(e.loc)
	return Result{
		Ref:          "chunk:" + doc.ID,
		ChatLabel:    chatLabel(doc),
		Participants: doc.Participants,
		Sender:       doc.Sender,
		Timestamp:    ts.Format(timestampLayout),
		RelativeTime: humanize.Time(ts),
		HasImage:     doc.HasImage,
		IsGroupChat:  doc.IsGroupChat,
		Text:         doc.Text,
		Score:        score,
		startTS:      doc.StartTS,
	}
}

// chatLabel names a result's conversation: the group name when present,
// else the non-owner participants, else "Unknown".
func chatLabel(doc docstore.Document) string {
	if doc.GroupName != "" {
		return doc.GroupName
	}
	var others []string
	for _, p := range doc.Participants {
		if p != chunker.OwnerLabel {
			others = append(others, p)
		}
	}
	if len(others) > 0 {
		return strings.Join(others, ", ")
	}
	return "Unknown"
}
