package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultTitle is used when a conversation arrives without a title.
const DefaultTitle = "UNTITLED CONVERSATION"

// ImagePlaceholder replaces non-text parts of multimodal messages.
const ImagePlaceholder = "\n[IMAGE OMITTED]\n"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

const (
	ContentText       = "text"
	ContentCode       = "code"
	ContentMultimodal = "multimodal_text"
)

var ErrMalformed = errors.New("malformed export")

// Conversation is one entry of a chat export as uploaded by a client.
type Conversation struct {
	ConversationID   string   `json:"conversation_id"`
	Title            string   `json:"title"`
	CreateTime       *float64 `json:"create_time"`
	DefaultModelSlug string   `json:"default_model_slug"`
	Mapping          Mapping  `json:"mapping"`
}

// Node is a single vertex of a conversation forest.
type Node struct {
	ID       string   `json:"id"`
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
	Message  *Message `json:"message"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.Parent == nil || *n.Parent == ""
}

type Message struct {
	ID         string   `json:"id,omitempty"`
	Author     Author   `json:"author"`
	Content    Content  `json:"content"`
	CreateTime *float64 `json:"create_time"`
}

type Author struct {
	Role string `json:"role"`
}

// Content is discriminated by ContentType. Text and multimodal content carry
// Parts; code content carries Text.
type Content struct {
	ContentType string            `json:"content_type"`
	Parts       []json.RawMessage `json:"parts,omitempty"`
	Text        string            `json:"text,omitempty"`
}

// DisplayText derives the readable text of a message body.
func (c Content) DisplayText() string {
	switch c.ContentType {
	case ContentText:
		parts := make([]string, 0, len(c.Parts))
		for _, raw := range c.Parts {
			if s, ok := stringPart(raw); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case ContentCode:
		return c.Text
	case ContentMultimodal:
		parts := make([]string, 0, len(c.Parts))
		for _, raw := range c.Parts {
			if s, ok := stringPart(raw); ok {
				parts = append(parts, s)
			} else {
				parts = append(parts, ImagePlaceholder)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func stringPart(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Mapping is the node-id keyed forest of a conversation. Unlike a Go map it
// remembers the order in which node ids appeared in the source document, so
// root enumeration is deterministic.
type Mapping struct {
	order []string
	nodes map[string]Node
}

// NewMapping builds a mapping from nodes in the given order.
func NewMapping(nodes ...Node) Mapping {
	m := Mapping{nodes: make(map[string]Node, len(nodes))}
	for _, n := range nodes {
		m.put(n.ID, n)
	}
	return m
}

func (m *Mapping) put(id string, n Node) {
	if m.nodes == nil {
		m.nodes = make(map[string]Node)
	}
	if _, seen := m.nodes[id]; !seen {
		m.order = append(m.order, id)
	}
	if n.ID == "" {
		n.ID = id
	}
	m.nodes[id] = n
}

func (m Mapping) Len() int { return len(m.order) }

// Keys returns node ids in document order.
func (m Mapping) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m Mapping) Node(id string) (Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

func (m *Mapping) UnmarshalJSON(data []byte) error {
	*m = Mapping{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("mapping: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("mapping: expected string key, got %v", keyTok)
		}
		var n Node
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("mapping node %s: %w", key, err)
		}
		m.put(key, n)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.nodes[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
