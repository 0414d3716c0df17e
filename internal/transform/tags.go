package transform

import (
	"regexp"
	"strings"

	"relaygram/internal/config"
)

var languages = []struct {
	name string
	re   *regexp.Regexp
}{
	{"ru", regexp.MustCompile(`(?i)ё|ъ|ы|э`)},
	{"ua", regexp.MustCompile(`(?i)ґ|є|і|ї`)},
}

const defaultLanguage = "ru"

// specialTags maps a channel tag setting to its hashtag per language.
var specialTags = map[string]map[string]string{
	"ru": {
		"recommend":        "рекомендуем",
		"cash_on_delivery": "наложенный_платеж",
		"copy_by_photo":    "копия_по_фото",
		"odessa":           "одесса",
		"kharkov":          "харьков",
	},
	"ua": {
		"recommend":        "рекомендуємо",
		"cash_on_delivery": "накладений_платіж",
		"copy_by_photo":    "копія_по_фото",
		"odessa":           "одеса",
		"kharkov":          "харків",
	},
}

var reLeadingBreaks = regexp.MustCompile(`(?m)^\n+`)

// detectLanguages returns every language whose unique letters appear in
// text, or the default language when none do.
func detectLanguages(text string) []string {
	var out []string
	for _, l := range languages {
		if l.re.MatchString(text) {
			out = append(out, l.name)
		}
	}
	if len(out) == 0 {
		out = append(out, defaultLanguage)
	}
	return out
}

func appendTags(b *strings.Builder, tags []string) {
	if len(tags) == 0 {
		return
	}
	b.WriteString(strings.Join(tags, " "))
	b.WriteString(" ")
}

// addTags appends one tag line per detected language: global tags whose
// pattern matches the post, then the channel's own tags. The brand tag
// goes last.
func (t *Transformer) addTags(s config.ChannelSettings, text string) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")

	for _, lang := range detectLanguages(b.String()) {
		b.WriteString("\n")
		for _, g := range t.tags {
			var tags []string
			current := b.String()
			for _, r := range g.byLang[lang] {
				if r.re.MatchString(current) {
					tags = append(tags, "#"+r.tag)
				}
			}
			appendTags(&b, tags)
		}
		var own []string
		for _, v := range s.Tags {
			if tag, ok := specialTags[lang][v]; ok {
				own = append(own, "#"+tag)
			}
		}
		appendTags(&b, own)
	}

	if s.BrandID != "" {
		b.WriteString("\n#brand_")
		b.WriteString(s.BrandID)
	}
	return reLeadingBreaks.ReplaceAllString(b.String(), "\n")
}
