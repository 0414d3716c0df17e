// Package transform filters and rewrites source posts for a destination
// profile: keyword allow/deny, media-only rules, entity stripping, keyword
// removal, price adjustment and tag generation.
package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"relaygram/internal/config"
	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

// Transformer is safe for concurrent use. Every user-supplied pattern is
// compiled by New so a bad pattern fails at startup.
type Transformer struct {
	log  logx.Logger
	tags []tagGroup

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

type tagGroup struct {
	name   string
	byLang map[string][]tagRule
}

type tagRule struct {
	re  *regexp.Regexp
	tag string
}

func New(profiles []config.Profile, tags config.GlobalTags, log logx.Logger) (*Transformer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Transformer{
		log:      log.With(logx.String("comp", "transform")),
		patterns: map[string]*regexp.Regexp{},
	}

	groups := make([]string, 0, len(tags))
	for g := range tags {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	for _, g := range groups {
		tg := tagGroup{name: g, byLang: map[string][]tagRule{}}
		for lang, rules := range tags[g] {
			keys := make([]string, 0, len(rules))
			for k := range rules {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				re, err := compilePattern(k)
				if err != nil {
					return nil, fmt.Errorf("global_tags.%s.%s: %w", g, lang, err)
				}
				tg.byLang[lang] = append(tg.byLang[lang], tagRule{re: re, tag: rules[k]})
			}
		}
		t.tags = append(t.tags, tg)
	}

	for _, p := range profiles {
		if err := t.precompile(p.Defaults); err != nil {
			return nil, fmt.Errorf("profile %s: channel_settings_default: %w", p.Name, err)
		}
		for _, src := range p.SourceKeys() {
			if err := t.precompile(p.Inputs[src]); err != nil {
				return nil, fmt.Errorf("profile %s: input_channels[%s]: %w", p.Name, src, err)
			}
		}
	}
	return t, nil
}

func (t *Transformer) precompile(s config.ChannelSettings) error {
	add := func(field, p string, compile func(string) (*regexp.Regexp, error)) error {
		if p == "" {
			return nil
		}
		re, err := compile(p)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		t.patterns[p] = re
		return nil
	}
	for _, lists := range []struct {
		field string
		items []string
	}{
		{"allowed_keywords", s.AllowedKeywords},
		{"disallowed_keywords", s.DisallowedKeywords},
		{"remove_keywords", s.RemoveKeywords},
	} {
		for _, p := range lists.items {
			if err := add(lists.field, p, compilePattern); err != nil {
				return err
			}
		}
	}
	rules := append([]config.PriceRule(nil), s.Prices...)
	for _, rs := range s.PricesPerChannel {
		rules = append(rules, rs...)
	}
	for _, r := range rules {
		if err := add("prices", pricePattern(r.Pattern), compilePattern); err != nil {
			return err
		}
	}
	for _, tag := range s.Tags {
		if _, ok := specialTags["ru"][tag]; !ok {
			return fmt.Errorf("tags: unknown tag %q", tag)
		}
	}
	return nil
}

// re returns the compiled pattern, compiling on first use for settings not
// seen by New. A pattern that does not compile never matches.
func (t *Transformer) re(p string, compile func(string) (*regexp.Regexp, error)) *regexp.Regexp {
	t.mu.Lock()
	defer t.mu.Unlock()
	if re, ok := t.patterns[p]; ok {
		return re
	}
	re, err := compile(p)
	if err != nil {
		t.log.Warn("invalid pattern ignored", logx.String("pattern", p), logx.Err(err))
	}
	t.patterns[p] = re
	return re
}

func compilePattern(p string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + p)
}

// Evaluate reports whether it is relayed under s and returns the rewritten post.
func (t *Transformer) Evaluate(s config.ChannelSettings, it content.RawItem) (content.RawItem, bool) {
	if !t.allowed(s, &it) {
		return it, false
	}
	if it.Text != "" {
		t.rewrite(s, &it)
	}
	return it, true
}

// rewrite applies the text transformations in order: entity stripping,
// keyword removal, prices, tags.
func (t *Transformer) rewrite(s config.ChannelSettings, it *content.RawItem) {
	orig := it.Text
	text := orig
	var dropped []string

	for _, st := range strippers {
		if st.enabled(s) {
			continue
		}
		text = st.strip(text)
		dropped = append(dropped, st.entities...)
	}

	if s.RemoveKeywords != nil {
		for _, kw := range s.RemoveKeywords {
			if kw == "" {
				continue
			}
			if re := t.re(kw, compilePattern); re != nil {
				text = re.ReplaceAllLiteralString(text, "")
			}
		}
		text = reLineBreaks.ReplaceAllString(text, "\n")
	}

	text = t.changePrices(s, it.ForwardedFrom, text)
	text = t.addTags(s, text)

	it.Text = text
	// Entity offsets survive only when the original text is an unchanged prefix.
	if !strings.HasPrefix(text, orig) {
		it.Entities = nil
		return
	}
	it.Entities = dropEntities(it.Entities, dropped)
}

var reLineBreaks = regexp.MustCompile(`\n+`)

func dropEntities(ents []content.Entity, types []string) []content.Entity {
	if len(ents) == 0 || len(types) == 0 {
		return ents
	}
	out := ents[:0:0]
	for _, e := range ents {
		drop := false
		for _, t := range types {
			if e.Type == t {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, e)
		}
	}
	return out
}
