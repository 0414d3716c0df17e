package transform

import (
	"regexp"

	"relaygram/internal/config"
	"relaygram/internal/content"
)

var reEmoji = regexp.MustCompile(`[` + emojiRanges + `]+`)

const emojiRanges = `\x{1F1E0}-\x{1F1FF}` + // flags
	`\x{1F300}-\x{1F5FF}` + // symbols & pictographs
	`\x{1F600}-\x{1F64F}` + // emoticons
	`\x{1F680}-\x{1F6FF}` + // transport & map
	`\x{1F700}-\x{1F77F}` +
	`\x{1F780}-\x{1F7FF}` +
	`\x{1F800}-\x{1F8FF}` +
	`\x{1F900}-\x{1F9FF}` +
	`\x{1FA00}-\x{1FA6F}` +
	`\x{1FA70}-\x{1FAFF}` +
	`\x{2702}-\x{27B0}` + // dingbats
	`\x{24C2}-\x{1F251}`

func stripEmoji(s string) string { return reEmoji.ReplaceAllString(s, "") }

// textAllowed applies disallowed_keywords, then allowed_keywords. A nil
// allow list admits everything; an empty one admits nothing.
func (t *Transformer) textAllowed(s config.ChannelSettings, text string) bool {
	plain := stripEmoji(text)
	for _, kw := range s.DisallowedKeywords {
		if kw == "" {
			continue
		}
		if re := t.re(kw, compilePattern); re != nil && re.MatchString(plain) {
			return false
		}
	}
	if s.AllowedKeywords == nil {
		return true
	}
	for _, kw := range s.AllowedKeywords {
		if kw == "" {
			continue
		}
		if re := t.re(kw, compilePattern); re != nil && re.MatchString(plain) {
			return true
		}
	}
	return false
}

// allowed decides whether the post is relayed. It may clear the text of a
// media post whose text fails the keyword check (clean_media_message).
func (t *Transformer) allowed(s config.ChannelSettings, it *content.RawItem) bool {
	if it.Text != "" && s.CleanMediaMessage && it.HasMedia() {
		if !t.textAllowed(s, it.Text) {
			it.Text = ""
			it.Entities = nil
		}
	}

	if it.Text == "" && it.Media != nil {
		m := it.Media
		switch {
		case s.MediaWithoutMessage && m.Kind == content.MediaPhoto:
			return true
		case s.MediaDocImageWithoutMessage && m.Kind == content.MediaDocument && m.MIME == "image/jpeg":
			return true
		case s.MediaDocVideoWithoutMessage && (m.Kind == content.MediaDocument || m.Kind == content.MediaVideo) && m.MIME == "video/mp4":
			return true
		}
	}
	return t.textAllowed(s, it.Text)
}
