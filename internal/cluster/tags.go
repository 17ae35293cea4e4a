package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type TagCount struct {
	Tag   string
	Count int
}

// TagCounts is a frequency table ordered by count descending. It encodes as a
// JSON object whose keys keep that order.
type TagCounts []TagCount

// CountTags tallies tags across members and keeps the top max entries. Ties
// keep the order in which tags were first seen.
func CountTags(tagLists [][]string, max int) TagCounts {
	index := make(map[string]int)
	var counts TagCounts
	for _, tags := range tagLists {
		for _, t := range tags {
			if i, ok := index[t]; ok {
				counts[i].Count++
				continue
			}
			index[t] = len(counts)
			counts = append(counts, TagCount{Tag: t, Count: 1})
		}
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if max > 0 && len(counts) > max {
		counts = counts[:max]
	}
	if counts == nil {
		counts = TagCounts{}
	}
	return counts
}

func (tc TagCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range tc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Tag)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", c.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (tc *TagCounts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*tc = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("tag counts: expected object, got %v", tok)
	}
	out := TagCounts{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("tag counts %v: %w", keyTok, err)
		}
		out = append(out, TagCount{Tag: keyTok.(string), Count: n})
	}
	*tc = out
	return nil
}
