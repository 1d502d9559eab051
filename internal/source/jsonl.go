package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// JSONLSource reads an exported archive: one RawMessage JSON object per
// line. The whole file is loaded up front and grouped by conversation, so
// Messages always returns time-ordered slices regardless of export order.
type JSONLSource struct {
	order  []string
	byConv map[string][]RawMessage
}

// OpenJSONL parses an export file into a JSONLSource.
func OpenJSONL(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	src := &JSONLSource{byConv: make(map[string][]RawMessage)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var m RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("bad record on line %d: %w", line, err)
		}
		if m.ConversationID == "" {
			return nil, fmt.Errorf("bad record on line %d: missing conversation_id", line)
		}
		if _, seen := src.byConv[m.ConversationID]; !seen {
			src.order = append(src.order, m.ConversationID)
		}
		src.byConv[m.ConversationID] = append(src.byConv[m.ConversationID], m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	for _, msgs := range src.byConv {
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	}
	return src, nil
}

// Conversations lists conversation ids in first-appearance order.
func (s *JSONLSource) Conversations(ctx context.Context) ([]string, error) {
	return s.order, nil
}

// Messages returns the time-ordered messages of one conversation.
func (s *JSONLSource) Messages(ctx context.Context, conversationID string) ([]RawMessage, error) {
	return s.byConv[conversationID], nil
}
