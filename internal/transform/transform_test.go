package transform

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygram/internal/config"
	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

func keepAll() config.ChannelSettings {
	return config.ChannelSettings{Links: true, Users: true, Emails: true, HashTags: true, EnglishPart: true}
}

func newTransformer(t *testing.T, tags config.GlobalTags) *Transformer {
	t.Helper()
	tr, err := New(nil, tags, logx.Nop())
	require.NoError(t, err)
	return tr
}

// body drops the tag block appended to every relayed post.
func body(s string) string { return strings.TrimRight(s, "\n ") }

func TestKeywordFilters(t *testing.T) {
	tr := newTransformer(t, nil)

	s := keepAll()
	s.AllowedKeywords = []string{"цена"}
	s.DisallowedKeywords = []string{"продам", "ab"}

	out, ok := tr.Evaluate(s, content.RawItem{Text: "Цена 100"})
	require.True(t, ok)
	assert.Equal(t, "Цена 100", body(out.Text))

	_, ok = tr.Evaluate(s, content.RawItem{Text: "Продам телефон, цена 5"})
	assert.False(t, ok, "disallowed wins over allowed")

	_, ok = tr.Evaluate(s, content.RawItem{Text: "просто текст"})
	assert.False(t, ok)

	_, ok = tr.Evaluate(s, content.RawItem{Text: "цена a🔥b"})
	assert.False(t, ok, "emoji are ignored when matching")

	open := keepAll()
	_, ok = tr.Evaluate(open, content.RawItem{Text: "что угодно"})
	assert.True(t, ok)

	closed := keepAll()
	closed.AllowedKeywords = []string{}
	_, ok = tr.Evaluate(closed, content.RawItem{Text: "что угодно"})
	assert.False(t, ok)
}

func TestMediaWithoutText(t *testing.T) {
	tr := newTransformer(t, nil)

	s := keepAll()
	s.AllowedKeywords = []string{"цена"}

	pic := content.RawItem{Media: &content.Media{Kind: content.MediaPhoto, FileID: "p"}}
	_, ok := tr.Evaluate(s, pic)
	assert.False(t, ok)

	s.MediaWithoutMessage = true
	_, ok = tr.Evaluate(s, pic)
	assert.True(t, ok)

	jpeg := content.RawItem{Media: &content.Media{Kind: content.MediaDocument, FileID: "d", MIME: "image/jpeg"}}
	_, ok = tr.Evaluate(s, jpeg)
	assert.False(t, ok)
	s.MediaDocImageWithoutMessage = true
	_, ok = tr.Evaluate(s, jpeg)
	assert.True(t, ok)

	mp4 := content.RawItem{Media: &content.Media{Kind: content.MediaVideo, FileID: "v", MIME: "video/mp4"}}
	_, ok = tr.Evaluate(s, mp4)
	assert.False(t, ok)
	s.MediaDocVideoWithoutMessage = true
	_, ok = tr.Evaluate(s, mp4)
	assert.True(t, ok)
}

func TestCleanMediaMessage(t *testing.T) {
	tr := newTransformer(t, nil)

	s := keepAll()
	s.AllowedKeywords = []string{"цена"}
	s.CleanMediaMessage = true
	s.MediaWithoutMessage = true

	in := content.RawItem{
		Text:     "подписывайтесь",
		Entities: []content.Entity{{Type: "bold", Offset: 0, Length: 5}},
		Media:    &content.Media{Kind: content.MediaPhoto, FileID: "p"},
	}
	out, ok := tr.Evaluate(s, in)
	require.True(t, ok)
	assert.Empty(t, out.Text)
	assert.Empty(t, out.Entities)
	assert.Equal(t, "p", out.Media.FileID)

	in.Text = "цена 10"
	out, ok = tr.Evaluate(s, in)
	require.True(t, ok)
	assert.Equal(t, "цена 10", body(out.Text))
}

func TestStripLinksKeepsEmails(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.Links = false

	out, ok := tr.Evaluate(s, content.RawItem{
		Text:     "Купить тут https://shop.example.com/x и пишите user@mail.ru",
		Entities: []content.Entity{{Type: content.EntityURL, Offset: 11, Length: 26}},
	})
	require.True(t, ok)
	assert.Equal(t, "Купить тут  и пишите user@mail.ru", body(out.Text))
	assert.Nil(t, out.Entities, "offsets are stale once the body changes")

	assert.Equal(t, "сайт  тоже", stripLinks("сайт shop.com.ua тоже"))
}

func TestStripUsers(t *testing.T) {
	assert.Equal(t, "Пишите сейчас", stripUsers("Пишите @shop_admin сейчас"))
	assert.Equal(t, "", stripUsers("@a @b"))
	assert.Equal(t, "mail a@b.com", stripUsers("mail a@b.com"))
}

func TestStripHashTagsAndEmails(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.HashTags = false
	s.Emails = false

	out, ok := tr.Evaluate(s, content.RawItem{Text: "Новинка #обувь #nike\nпочта sale@shop.ua сегодня"})
	require.True(t, ok)
	assert.Equal(t, "Новинка\nпочта сегодня", body(out.Text))
}

func TestStripEnglishPart(t *testing.T) {
	in := "Цена 100\nThis is a very long english description line\nКупить"
	assert.Equal(t, "Цена 100\nКупить", stripEnglishPart(in))

	short := "Цена 100\nSize 42\nКупить"
	assert.Equal(t, short, stripEnglishPart(short))
}

func TestRemoveKeywordsCollapsesLines(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.RemoveKeywords = []string{`скидка\s*`}

	out, ok := tr.Evaluate(s, content.RawItem{Text: "Скидка сегодня\n\n\nЦена"})
	require.True(t, ok)
	assert.Equal(t, "сегодня\nЦена", body(out.Text))
}

func TestChangePrices(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.Prices = []config.PriceRule{{Pattern: `(\d+[.,]?\d*)\s?грн`, Value: decimal.NewFromInt(50)}}

	cases := map[string]string{
		"Цена 120 грн":      "Цена 170 грн",
		"Цена 123 грн":      "Цена 180 грн",
		"Цена 12,5 грн":     "Цена 62.5 грн",
		"Без цены, пишите!": "Без цены, пишите!",
	}
	for in, want := range cases {
		out, ok := tr.Evaluate(s, content.RawItem{Text: in})
		require.True(t, ok)
		assert.Equal(t, want, body(out.Text), in)
	}
}

func TestChangePricesCurrencyAndProgressive(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.ProgressiveValues = []config.ProgressiveValue{
		{Limit: decimal.NewFromInt(100), Value: decimal.NewFromInt(10)},
		{Limit: decimal.NewFromInt(500), Value: decimal.NewFromInt(50)},
	}
	s.Prices = []config.PriceRule{{Pattern: `цена:\s*\d+`, Value: decimal.Zero, Currency: "₴"}}

	cases := map[string]string{
		"цена: 80":  "цена: 80₴",
		"цена: 450": "цена: 460₴",
		"цена: 600": "цена: 650₴",
	}
	for in, want := range cases {
		out, ok := tr.Evaluate(s, content.RawItem{Text: in})
		require.True(t, ok)
		assert.Equal(t, want, body(out.Text), in)
	}

	own := []config.ProgressiveValue{{Limit: decimal.Zero, Value: decimal.NewFromInt(1)}}
	s.Prices[0].ProgressiveValues = own
	out, _ := tr.Evaluate(s, content.RawItem{Text: "цена: 600"})
	assert.Equal(t, "цена: 610₴", body(out.Text), "rule steps override channel steps")
}

func TestPricesPerChannel(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.PricesPerChannel = map[string][]config.PriceRule{
		"555": {{Pattern: `(\d+)\s?грн`, Value: decimal.NewFromInt(20)}},
	}

	out, _ := tr.Evaluate(s, content.RawItem{Text: "Цена 60 грн", ForwardedFrom: "-100555"})
	assert.Equal(t, "Цена 80 грн", body(out.Text))

	out, _ = tr.Evaluate(s, content.RawItem{Text: "Цена 60 грн"})
	assert.Equal(t, "Цена 60 грн", body(out.Text))

	out, _ = tr.Evaluate(s, content.RawItem{Text: "Цена 60 грн", ForwardedFrom: "777"})
	assert.Equal(t, "Цена 60 грн", body(out.Text))
}

func TestTags(t *testing.T) {
	tr := newTransformer(t, config.GlobalTags{
		"brand": {"ru": {"nike|найк": "nike"}, "ua": {"nike": "nike_ua"}},
		"type":  {"ru": {"кроссовк": "кроссовки"}},
	})
	s := keepAll()
	s.Tags = []string{"recommend"}
	s.BrandID = "42"

	out, ok := tr.Evaluate(s, content.RawItem{Text: "Кроссовки Nike"})
	require.True(t, ok)
	assert.Equal(t, "Кроссовки Nike\n\n#nike #кроссовки #рекомендуем \n#brand_42", out.Text)

	out, _ = tr.Evaluate(s, content.RawItem{Text: "Кросівки Nike"})
	assert.Equal(t, "Кросівки Nike\n\n#nike_ua #рекомендуємо \n#brand_42", out.Text)
}

func TestDetectLanguages(t *testing.T) {
	assert.Equal(t, []string{"ru"}, detectLanguages("hello"))
	assert.Equal(t, []string{"ua"}, detectLanguages("Їжа"))
	assert.Equal(t, []string{"ru", "ua"}, detectLanguages("мы і"))
}

func TestEntitiesKeptWhenBodyUnchanged(t *testing.T) {
	tr := newTransformer(t, nil)
	s := keepAll()
	s.Links = false

	out, ok := tr.Evaluate(s, content.RawItem{
		Text: "Цена",
		Entities: []content.Entity{
			{Type: "bold", Offset: 0, Length: 4},
			{Type: content.EntityTextLink, Offset: 0, Length: 4, URL: "https://x.test"},
		},
	})
	require.True(t, ok)
	assert.Equal(t, []content.Entity{{Type: "bold", Offset: 0, Length: 4}}, out.Entities)
}

func TestNewRejectsBadSettings(t *testing.T) {
	bad := keepAll()
	bad.DisallowedKeywords = []string{`(?<=x)y`}
	_, err := New([]config.Profile{{Name: "shop", Defaults: bad}}, nil, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disallowed_keywords")

	tagged := keepAll()
	tagged.Tags = []string{"nope"}
	_, err = New([]config.Profile{{Name: "shop", Inputs: map[string]config.ChannelSettings{"1": tagged}}}, nil, logx.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag")

	_, err = New(nil, config.GlobalTags{"g": {"ru": {"[": "x"}}}, logx.Nop())
	require.Error(t, err)
}
