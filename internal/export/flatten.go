package export

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Flatten extracts the longest linear message chain from a conversation
// forest. Every root walks forward along first children only, collecting
// non-null messages. The chain with the most messages wins; on a tie the
// root that appears first in the mapping wins. The chosen chain is sorted by
// create time, with a missing timestamp treated as zero.
func Flatten(m Mapping) []Message {
	var longest []Message
	for _, id := range m.order {
		if !m.nodes[id].IsRoot() {
			continue
		}
		chain := m.chainFrom(id)
		if len(chain) > len(longest) {
			longest = chain
		}
	}
	if len(longest) == 0 {
		return []Message{}
	}

	sort.SliceStable(longest, func(i, j int) bool {
		return createTime(longest[i]) < createTime(longest[j])
	})
	return longest
}

func (m Mapping) chainFrom(rootID string) []Message {
	var chain []Message
	visited := make(map[string]bool)
	id := rootID
	for id != "" && !visited[id] {
		visited[id] = true
		n, ok := m.nodes[id]
		if !ok {
			break
		}
		if n.Message != nil {
			chain = append(chain, *n.Message)
		}
		if len(n.Children) == 0 {
			break
		}
		id = n.Children[0]
	}
	return chain
}

func createTime(msg Message) float64 {
	if msg.CreateTime == nil {
		return 0
	}
	return *msg.CreateTime
}

// RenderMarkdown renders user and assistant messages as a readable transcript.
func RenderMarkdown(messages []Message) string {
	blocks := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := msg.Author.Role
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		text := msg.Content.DisplayText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, "# **"+capitalize(role)+":**\n"+text)
	}
	return strings.Join(blocks, "\n\n---\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
