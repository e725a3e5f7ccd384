package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ContentKind tags which variant a MessageContent holds.
type ContentKind int

const (
	// ContentNull is an absent or explicit null content.
	ContentNull ContentKind = iota
	// ContentText is a plain string.
	ContentText
	// ContentParts is an ordered list of typed parts.
	ContentParts
)

// Content part types accepted in a parts array.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one element of a multimodal content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// MarshalJSON keeps "text" on text parts even when it is empty.
func (p ContentPart) MarshalJSON() ([]byte, error) {
	if p.Type == PartTypeText {
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{p.Type, p.Text})
	}
	type plain ContentPart
	return json.Marshal(plain(p))
}

// MessageContent is string | null | []ContentPart.
type MessageContent struct {
	Kind  ContentKind
	Text  string
	Parts []ContentPart
}

// TextContent creates a plain string content.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// PartsContent creates multimodal content from parts.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Kind: ContentParts, Parts: parts}
}

// HasImage reports whether any part is an image_url part.
func (mc MessageContent) HasImage() bool {
	if mc.Kind != ContentParts {
		return false
	}
	for _, part := range mc.Parts {
		if part.Type == PartTypeImageURL {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	switch mc.Kind {
	case ContentText:
		return json.Marshal(mc.Text)
	case ContentParts:
		if mc.Parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(mc.Parts)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*mc = MessageContent{Kind: ContentNull}
	case trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*mc = MessageContent{Kind: ContentText, Text: text}
	case trimmed[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		if parts == nil {
			parts = []ContentPart{}
		}
		*mc = MessageContent{Kind: ContentParts, Parts: parts}
	default:
		return fmt.Errorf("content must be a string, null, or an array of parts")
	}
	return nil
}

func (mc MessageContent) clone() MessageContent {
	out := mc
	if mc.Parts != nil {
		out.Parts = make([]ContentPart, len(mc.Parts))
		for i, part := range mc.Parts {
			out.Parts[i] = part
			if part.ImageURL != nil {
				img := *part.ImageURL
				out.Parts[i].ImageURL = &img
			}
		}
	}
	return out
}
