// Package content holds the source-side data model shared by the origin,
// the transformer and the relay core.
package content

import (
	"fmt"
	"strconv"
	"strings"
)

// MediaKind is the delivery shape of an attachment.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media references an attachment already stored by the transport.
// FileID is reusable for re-sending without downloading.
type Media struct {
	Kind     MediaKind `json:"kind"`
	FileID   string    `json:"file_id"`
	MIME     string    `json:"mime,omitempty"`
	FileName string    `json:"file_name,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// Entity is a formatting span inside Text, in UTF-16 code units like the Bot API.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// Entity types the transformer strips by setting.
const (
	EntityURL      = "url"
	EntityTextLink = "text_link"
	EntityMention  = "mention"
	EntityEmail    = "email"
	EntityHashtag  = "hashtag"
)

// RawItem is one source post as journaled by the transport.
type RawItem struct {
	ID        int64    `json:"id"`
	Source    string   `json:"source"`
	Text      string   `json:"text,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
	Media     *Media   `json:"media,omitempty"`
	GroupedID string   `json:"grouped_id,omitempty"`
	// ForwardedFrom is the source key of the original channel for forwarded posts.
	ForwardedFrom string `json:"forwarded_from,omitempty"`
}

// HasMedia reports whether the item carries an attachment.
func (r RawItem) HasMedia() bool { return r.Media != nil && r.Media.FileID != "" }

// SourceKey renders a Bot API chat id as the short key used in profile
// files: channel ids lose their "-100" prefix.
func SourceKey(chatID int64) string {
	return NormalizeKey(strconv.FormatInt(chatID, 10))
}

// NormalizeKey strips the "-100" channel prefix from a configured key.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "-100") && len(key) > 4 {
		return key[4:]
	}
	return key
}

// ChatID converts a configured chat reference back to a Bot API chat id.
// Bare positive keys are treated as channel keys.
func ChatID(key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("empty chat id")
	}
	if !strings.HasPrefix(key, "-") {
		key = "-100" + key
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", key, err)
	}
	return id, nil
}
