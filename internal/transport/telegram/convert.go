package telegram

import (
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"

	"relaygram/internal/content"
)

// maxCaption is the Bot API caption limit in UTF-16 code units.
const maxCaption = 1024

func rawFromMessage(m *tele.Message) content.RawItem {
	it := content.RawItem{
		ID:        int64(m.ID),
		Source:    content.SourceKey(m.Chat.ID),
		GroupedID: m.AlbumID,
	}
	if m.Origin != nil && m.Origin.Chat != nil {
		it.ForwardedFrom = content.SourceKey(m.Origin.Chat.ID)
	}

	switch {
	case m.Photo != nil:
		it.Media = &content.Media{Kind: content.MediaPhoto, FileID: m.Photo.FileID}
	case m.Video != nil:
		it.Media = &content.Media{Kind: content.MediaVideo, FileID: m.Video.FileID, MIME: m.Video.MIME, FileName: m.Video.FileName}
	case m.Document != nil:
		it.Media = &content.Media{Kind: content.MediaDocument, FileID: m.Document.FileID, MIME: m.Document.MIME, FileName: m.Document.FileName}
	}

	if it.Media != nil {
		it.Text = m.Caption
		it.Entities = fromEntities(m.CaptionEntities)
	} else {
		it.Text = m.Text
		it.Entities = fromEntities(m.Entities)
	}
	return it
}

func fromEntities(in tele.Entities) []content.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]content.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, content.Entity{Type: string(e.Type), Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return out
}

func toEntities(in []content.Entity) tele.Entities {
	if len(in) == 0 {
		return nil
	}
	out := make(tele.Entities, 0, len(in))
	for _, e := range in {
		out = append(out, tele.MessageEntity{Type: tele.EntityType(e.Type), Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return out
}

// inputMedia renders a stored attachment; the file is re-sent by id.
func inputMedia(m content.Media, caption string) tele.Inputtable {
	f := tele.File{FileID: m.FileID}
	switch m.Kind {
	case content.MediaVideo:
		return &tele.Video{File: f, Caption: caption, MIME: m.MIME, FileName: m.FileName}
	case content.MediaDocument:
		return &tele.Document{File: f, Caption: caption, MIME: m.MIME, FileName: m.FileName}
	default:
		return &tele.Photo{File: f, Caption: caption}
	}
}

func utf16Len(s string) int { return len(utf16.Encode([]rune(s))) }
