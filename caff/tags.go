package caff

import (
	"fmt"
	"strings"

	"caff_back/metadata"
)

// JoinTags encodes an ordered tag list for storage.
func JoinTags(tags []string) (string, error) {
	for i, tag := range tags {
		if strings.Contains(tag, metadata.TagDelimiter) {
			return "", fmt.Errorf("tag %d %q contains %q", i, tag, metadata.TagDelimiter)
		}
	}
	return strings.Join(tags, metadata.TagDelimiter), nil
}

// SplitTags decodes a stored tag list. The empty string is the empty list.
func SplitTags(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, metadata.TagDelimiter)
}
