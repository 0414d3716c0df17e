package transform

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"relaygram/internal/config"
	"relaygram/internal/content"
)

type stripper struct {
	name     string
	enabled  func(config.ChannelSettings) bool
	strip    func(string) string
	entities []string
}

// strippers run in this order when their setting is false.
var strippers = []stripper{
	{
		name:     "links",
		enabled:  func(s config.ChannelSettings) bool { return s.Links },
		strip:    stripLinks,
		entities: []string{content.EntityURL, content.EntityTextLink},
	},
	{
		name:     "users",
		enabled:  func(s config.ChannelSettings) bool { return s.Users },
		strip:    stripUsers,
		entities: []string{content.EntityMention},
	},
	{
		name:     "emails",
		enabled:  func(s config.ChannelSettings) bool { return s.Emails },
		strip:    func(s string) string { return reEmail.ReplaceAllString(s, "") },
		entities: []string{content.EntityEmail},
	},
	{
		name:     "hash_tags",
		enabled:  func(s config.ChannelSettings) bool { return s.HashTags },
		strip:    func(s string) string { return reHashTag.ReplaceAllString(s, "") },
		entities: []string{content.EntityHashtag},
	},
	{
		name:    "english_part_of_message",
		enabled: func(s config.ChannelSettings) bool { return s.EnglishPart },
		strip:   stripEnglishPart,
	},
}

const tlds = `com|net|org|edu|gov|mil|aero|asia|biz|cat|coop|info|int|jobs|mobi|museum|name|` +
	`post|pro|tel|travel|xxx|shop|store|online|site|app|dev|io|ai|co|me|tv|cc|ly|gl|gg|to|fm|` +
	`ua|ru|by|kz|su|md|ge|am|az|uz|pl|cz|sk|de|fr|it|es|pt|nl|be|at|ch|uk|us|ca|eu|lt|lv|ee|` +
	`ro|bg|hu|tr|il|cn|jp|kr|in|br|ar|mx|au|nz|se|no|fi|dk|ie|gr|rs|hr|si`

var (
	reLink = regexp.MustCompile(`(?i)(?:https?://|www\d{0,3}\.)[^\s<>]+` +
		`|\b[a-z0-9]+(?:[.\-][a-z0-9]+)*\.(?:` + tlds + `)\b(?:/[^\s<>]*)?`)
	reUser    = regexp.MustCompile(`@[A-Za-z0-9_]+[ \x{00A0}]?`)
	reEmail   = regexp.MustCompile(`[a-zA-Z0-9_.+\-]+@[a-zA-Z0-9\-]+\.[a-zA-Z0-9\-.]+[ \x{00A0}]?`)
	reHashTag = regexp.MustCompile(`(?m)(?:^|\s)[＃#][\p{L}\p{N}_]+`)
)

// removeMatches deletes every match of re for which keep returns false.
func removeMatches(re *regexp.Regexp, s string, keep func(s string, start, end int) bool) string {
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if keep(s, loc[0], loc[1]) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// stripLinks leaves the domain part of e-mail addresses alone.
func stripLinks(s string) string {
	return removeMatches(reLink, s, func(s string, start, end int) bool {
		return (start > 0 && s[start-1] == '@') || (end < len(s) && s[end] == '@')
	})
}

// stripUsers removes @mentions that are not part of a word or an address.
func stripUsers(s string) string {
	return removeMatches(reUser, s, func(s string, start, _ int) bool {
		if start == 0 {
			return false
		}
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		return r == '-' || r == '_' || r == '.' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
	})
}

// minEnglishBlock is the shortest run of latin-only text that is removed.
const minEnglishBlock = 30

var reLatinLine = regexp.MustCompile(`^[a-zA-Z0-9\s` + emojiRanges +
	`!"#$%&'()*+,\-./:;<=>?@\[\\\]^_{|}~` + "`" + `•–—’“”…№]*$`)

// stripEnglishPart drops blocks of consecutive lines written without
// cyrillic when the block is at least minEnglishBlock characters long.
func stripEnglishPart(s string) string {
	lines := strings.Split(s, "\n")
	keep := make([]bool, len(lines))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(lines); {
		if !reLatinLine.MatchString(lines[i]) {
			i++
			continue
		}
		j, n := i, 0
		for j < len(lines) && reLatinLine.MatchString(lines[j]) {
			n += utf8.RuneCountInString(lines[j]) + 1
			j++
		}
		if n-1 >= minEnglishBlock {
			for k := i; k < j; k++ {
				keep[k] = false
			}
		}
		i = j
	}
	out := lines[:0:0]
	for i, l := range lines {
		if keep[i] {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
