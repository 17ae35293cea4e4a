package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// Parse decodes an export document: a JSON array of conversations.
// Titles default to DefaultTitle. A conversation without an id, or whose
// non-empty mapping has no root node, is rejected.
func Parse(r io.Reader) ([]Conversation, error) {
	var convs []Conversation
	if err := json.NewDecoder(r).Decode(&convs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return convs, Normalize(convs)
}

// Normalize validates decoded conversations in place.
func Normalize(convs []Conversation) error {
	seen := make(map[string]bool, len(convs))
	for i := range convs {
		c := &convs[i]
		if c.ConversationID == "" {
			return fmt.Errorf("%w: conversation %d has no conversation_id", ErrMalformed, i)
		}
		if seen[c.ConversationID] {
			return fmt.Errorf("%w: duplicate conversation_id %s", ErrMalformed, c.ConversationID)
		}
		seen[c.ConversationID] = true
		if c.Title == "" {
			c.Title = DefaultTitle
		}
		if c.Mapping.Len() > 0 && !hasRoot(c.Mapping) {
			return fmt.Errorf("%w: conversation %s has no root node", ErrMalformed, c.ConversationID)
		}
	}
	return nil
}

func hasRoot(m Mapping) bool {
	for _, id := range m.order {
		if m.nodes[id].IsRoot() {
			return true
		}
	}
	return false
}

// Transcript is the flattened form of one conversation.
type Transcript struct {
	Messages []Message
	Markdown string
}

// Flatten produces the transcript of the conversation's longest chain.
func (c Conversation) Flatten() Transcript {
	msgs := Flatten(c.Mapping)
	return Transcript{Messages: msgs, Markdown: RenderMarkdown(msgs)}
}
