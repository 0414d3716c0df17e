package relay

import "relaygram/internal/content"

// Item is one delivery unit. It is either TextItem or *AlbumItem.
type Item interface {
	isItem()
}

// TextItem is a single post: text with an optional attachment.
type TextItem struct {
	SourceID int64
	Text     string
	Entities []content.Entity
	Media    *content.Media
}

// AlbumItem groups the media of posts sharing a grouped id. It is delivered
// as one grouped send.
type AlbumItem struct {
	GroupedID string
	IDs       []int64
	Media     []content.Media
}

func (TextItem) isItem()   {}
func (*AlbumItem) isItem() {}

// appendItem folds one allowed item into items.
//
// Grouped posts join the album with the same grouped id anywhere in items
// (creating it at the end if absent); their text, if any, follows as a
// separate TextItem. A TextItem repeating the immediately preceding item is
// dropped: same text when the preceding item has no media, otherwise same
// text and media.
func appendItem(items []Item, it content.RawItem) []Item {
	if it.GroupedID != "" {
		album := findAlbum(items, it.GroupedID)
		if album == nil {
			album = &AlbumItem{GroupedID: it.GroupedID}
			items = append(items, album)
		}
		album.IDs = append(album.IDs, it.ID)
		if it.Media != nil {
			album.Media = append(album.Media, *it.Media)
		}
		if it.Text != "" {
			t := TextItem{SourceID: it.ID, Text: it.Text, Entities: it.Entities}
			if !duplicatesLast(items, t) {
				items = append(items, t)
			}
		}
		return items
	}

	t := TextItem{SourceID: it.ID, Text: it.Text, Entities: it.Entities}
	if it.Media != nil {
		m := *it.Media
		t.Media = &m
	}
	if duplicatesLast(items, t) {
		return items
	}
	return append(items, t)
}

func findAlbum(items []Item, groupedID string) *AlbumItem {
	for _, it := range items {
		if a, ok := it.(*AlbumItem); ok && a.GroupedID == groupedID {
			return a
		}
	}
	return nil
}

func duplicatesLast(items []Item, t TextItem) bool {
	if len(items) == 0 {
		return false
	}
	switch last := items[len(items)-1].(type) {
	case TextItem:
		if last.Media == nil {
			// a bare text (often an album caption) matches on text alone
			return t.Text != "" && last.Text == t.Text
		}
		return last.Text == t.Text && sameMedia(last.Media, t.Media)
	case *AlbumItem:
		return false
	default:
		return false
	}
}

func sameMedia(a, b *content.Media) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.FileID == b.FileID
}

// itemKind names an item for logs and metrics.
func itemKind(it Item) string {
	switch it.(type) {
	case TextItem:
		return "text"
	case *AlbumItem:
		return "album"
	default:
		return "unknown"
	}
}
