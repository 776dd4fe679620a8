// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package record

import "strings"

// Tag is a single object tag.
type Tag struct {
	Key   string
	Value string
}

// TagSet is an ordered sequence of tags.
type TagSet []Tag

// ParseTags parses a "k=v&k2=v2" string. Malformed pairs are skipped; callers
// that need strict parsing should check ValidTags first.
func ParseTags(s string) TagSet {
	if s == "" {
		return nil
	}
	var out TagSet
	for _, pair := range strings.Split(s, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			continue
		}
		out = append(out, Tag{Key: k, Value: v})
	}
	return out
}

// MergeTags appends additional to existing and de-duplicates by key. The last
// value seen for a key wins and each key keeps the position it first
// appeared at.
func MergeTags(existing TagSet, additional string) TagSet {
	all := append(append(TagSet{}, existing...), ParseTags(additional)...)

	index := make(map[string]int, len(all))
	merged := make(TagSet, 0, len(all))
	for _, t := range all {
		if i, ok := index[t.Key]; ok {
			merged[i].Value = t.Value
			continue
		}
		index[t.Key] = len(merged)
		merged = append(merged, t)
	}
	return merged
}

// String renders the set in "k=v&k2=v2" form.
func (ts TagSet) String() string {
	parts := make([]string, 0, len(ts))
	for _, t := range ts {
		parts = append(parts, t.Key+"="+t.Value)
	}
	return strings.Join(parts, "&")
}

// Map returns the set as a map.
func (ts TagSet) Map() map[string]string {
	m := make(map[string]string, len(ts))
	for _, t := range ts {
		m[t.Key] = t.Value
	}
	return m
}
