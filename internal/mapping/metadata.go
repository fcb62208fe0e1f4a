package mapping

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/johnnynv/issuesync/pkg/types"
)

const (
	blockStart = "<!-- issuesync:metadata"
	blockEnd   = "-->"
	// blockSeparator sits between the description and the block
	blockSeparator = "\n\n"
)

// Metadata holds the local-only fields carried in a remote issue body
type Metadata struct {
	LocalID        string           `yaml:"localId,omitempty"`
	StoryPoints    *int             `yaml:"storyPoints,omitempty"`
	EstimatedHours *float64         `yaml:"estimatedHours,omitempty"`
	Relations      []types.Relation `yaml:"relations,omitempty"`
}

// IsEmpty reports whether there is nothing worth embedding.
func (m Metadata) IsEmpty() bool {
	return m.LocalID == "" && m.StoryPoints == nil && m.EstimatedHours == nil && len(m.Relations) == 0
}

// EncodeBody appends the metadata block to description. An empty block is
// omitted so bodies without local-only data pass through untouched.
func EncodeBody(description string, meta Metadata) (string, error) {
	if meta.IsEmpty() {
		return description, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(meta); err != nil {
		return "", &types.MappingError{Reason: "encode metadata block", Err: err}
	}
	if err := enc.Close(); err != nil {
		return "", &types.MappingError{Reason: "encode metadata block", Err: err}
	}

	var b strings.Builder
	b.WriteString(description)
	b.WriteString(blockSeparator)
	b.WriteString(blockStart)
	b.WriteString("\n")
	b.WriteString(buf.String())
	b.WriteString(blockEnd)
	return b.String(), nil
}

// DecodeBody splits a remote body into description and metadata. A body
// without a block returns the body unchanged and empty metadata. A
// malformed block returns the whole body as description plus a
// MappingError.
func DecodeBody(body string) (string, Metadata, error) {
	start := strings.LastIndex(body, blockStart)
	if start < 0 {
		return body, Metadata{}, nil
	}

	rest := body[start+len(blockStart):]
	end := strings.Index(rest, blockEnd)
	if end < 0 {
		return body, Metadata{}, &types.MappingError{Reason: "unterminated metadata block"}
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return body, Metadata{}, &types.MappingError{Reason: "malformed metadata block", Err: err}
	}

	description := strings.TrimSuffix(body[:start], blockSeparator)
	// Anything after the block belongs to the description too
	if trailing := strings.TrimSpace(rest[end+len(blockEnd):]); trailing != "" {
		description += blockSeparator + trailing
	}
	return description, meta, nil
}

// HasMarker reports whether body carries a block naming localID
func HasMarker(body, localID string) bool {
	if localID == "" || !strings.Contains(body, blockStart) {
		return false
	}
	_, meta, err := DecodeBody(body)
	return err == nil && meta.LocalID == localID
}
