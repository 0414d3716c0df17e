package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"relaygram/internal/content"
)

var (
	ErrNoProfiles      = errors.New("no profiles configured")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrMissingOutput   = errors.New("missing output_channel_id")
	ErrNoInputChannels = errors.New("no input channels")
)

// ChatRef accepts a chat id written either as a YAML/JSON number or a string.
type ChatRef string

func (c *ChatRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChatRef(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chat id must be a string or integer: %w", err)
	}
	*c = ChatRef(n.String())
	return nil
}

// ProgressiveValue adds Value to prices at or above Limit (the last matching step wins).
type ProgressiveValue struct {
	Limit decimal.Decimal `json:"limit"`
	Value decimal.Decimal `json:"value"`
}

// PriceRule rewrites prices found by Pattern.
type PriceRule struct {
	Pattern  string          `json:"pattern"`
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency,omitempty"`
	// ProgressiveValues overrides the channel-level steps when present.
	ProgressiveValues []ProgressiveValue `json:"progressive_values,omitempty"`
}

// channelSettingsFile is the on-disk shape of channel_settings_default and input_channels entries.
type channelSettingsFile struct {
	CloseQueueInterval *Interval `json:"close_queue_interval,omitempty"`

	Links       *bool `json:"links,omitempty"`
	Users       *bool `json:"users,omitempty"`
	Emails      *bool `json:"emails,omitempty"`
	HashTags    *bool `json:"hash_tags,omitempty"`
	EnglishPart *bool `json:"english_part_of_message,omitempty"`

	MediaWithoutMessage         bool `json:"media_without_message,omitempty"`
	MediaDocImageWithoutMessage bool `json:"media_doc_image_without_message,omitempty"`
	MediaDocVideoWithoutMessage bool `json:"media_doc_video_without_message,omitempty"`
	CleanMediaMessage           bool `json:"clean_media_message,omitempty"`

	ProgressiveValues  []ProgressiveValue      `json:"progressive_values,omitempty"`
	RemoveKeywords     []string                `json:"remove_keywords,omitempty"`
	AllowedKeywords    []string                `json:"allowed_keywords"`
	DisallowedKeywords []string                `json:"disallowed_keywords,omitempty"`
	Prices             []PriceRule             `json:"prices,omitempty"`
	PricesPerChannel   map[string][]PriceRule  `json:"prices_per_channel,omitempty"`
	Tags               []string                `json:"tags,omitempty"`
	BrandID            ChatRef                 `json:"brand_id,omitempty"`
}

// ChannelSettings is the resolved per-(profile, source) configuration.
//
// Links/Users/Emails/HashTags/EnglishPart default to true (keep); false strips them.
// AllowedKeywords == nil allows everything; an empty non-nil list allows nothing.
type ChannelSettings struct {
	CloseQueueInterval time.Duration

	Links       bool
	Users       bool
	Emails      bool
	HashTags    bool
	EnglishPart bool

	MediaWithoutMessage         bool
	MediaDocImageWithoutMessage bool
	MediaDocVideoWithoutMessage bool
	CleanMediaMessage           bool

	ProgressiveValues  []ProgressiveValue
	RemoveKeywords     []string
	AllowedKeywords    []string
	DisallowedKeywords []string
	Prices             []PriceRule
	PricesPerChannel   map[string][]PriceRule
	Tags               []string
	BrandID            string
}

func (f channelSettingsFile) resolve() ChannelSettings {
	b := func(p *bool) bool { return p == nil || *p }
	cs := ChannelSettings{
		CloseQueueInterval:          DefaultCloseInterval,
		Links:                       b(f.Links),
		Users:                       b(f.Users),
		Emails:                      b(f.Emails),
		HashTags:                    b(f.HashTags),
		EnglishPart:                 b(f.EnglishPart),
		MediaWithoutMessage:         f.MediaWithoutMessage,
		MediaDocImageWithoutMessage: f.MediaDocImageWithoutMessage,
		MediaDocVideoWithoutMessage: f.MediaDocVideoWithoutMessage,
		CleanMediaMessage:           f.CleanMediaMessage,
		ProgressiveValues:           f.ProgressiveValues,
		RemoveKeywords:              f.RemoveKeywords,
		AllowedKeywords:             f.AllowedKeywords,
		DisallowedKeywords:          f.DisallowedKeywords,
		Prices:                      f.Prices,
		Tags:                        f.Tags,
		BrandID:                     string(f.BrandID),
	}
	if f.CloseQueueInterval != nil && f.CloseQueueInterval.D > 0 {
		cs.CloseQueueInterval = f.CloseQueueInterval.D
	}
	if len(f.PricesPerChannel) > 0 {
		cs.PricesPerChannel = make(map[string][]PriceRule, len(f.PricesPerChannel))
		for k, v := range f.PricesPerChannel {
			cs.PricesPerChannel[content.NormalizeKey(k)] = v
		}
	}
	return cs
}

type profileFile struct {
	OutputChannelID     ChatRef                               `json:"output_channel_id"`
	RedirectorChannelID ChatRef                               `json:"redirector_channel_id,omitempty"`
	Defaults            map[string]json.RawMessage            `json:"channel_settings_default,omitempty"`
	InputChannels       map[string]map[string]json.RawMessage `json:"input_channels"`
}

// Profile is one destination profile loaded from <profiles_dir>/<name>.yml.
type Profile struct {
	Name string
	// OutputChannel is the destination chat reference as written in the file.
	OutputChannel string
	// Redirector is the source key served by secondary ticks ("" when unset).
	Redirector string
	Defaults   ChannelSettings
	// Inputs maps normalized source keys to their merged settings.
	Inputs map[string]ChannelSettings
}

// SourceKeys returns the profile's input channels in stable order.
func (p Profile) SourceKeys() []string {
	out := make([]string, 0, len(p.Inputs))
	for k := range p.Inputs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Settings returns the merged settings for source, or the profile defaults
// when the source is not one of its inputs.
func (p Profile) Settings(source string) ChannelSettings {
	if cs, ok := p.Inputs[source]; ok {
		return cs
	}
	return p.Defaults
}

// LoadProfiles reads every *.yml/*.yaml/*.json file in dir. Any invalid
// profile fails the whole load.
func LoadProfiles(dir string) ([]Profile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("profiles_dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("profiles_dir: %w", err)
	}

	var out []Profile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isProfileFile(e.Name()) {
			continue
		}
		p, err := LoadProfile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoProfiles)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for i := 1; i < len(out); i++ {
		if out[i].Name == out[i-1].Name {
			return nil, fmt.Errorf("duplicate profile name %q", out[i].Name)
		}
	}
	return out, nil
}

func isProfileFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml", ".json":
		return true
	}
	return false
}

// LoadProfile reads a single profile file; the profile name is the file's base name.
func LoadProfile(path string) (Profile, error) {
	var pf profileFile
	if err := decodeFile(path, &pf); err != nil {
		return Profile{}, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p := Profile{
		Name:          name,
		OutputChannel: string(pf.OutputChannelID),
		Redirector:    content.NormalizeKey(string(pf.RedirectorChannelID)),
		Inputs:        make(map[string]ChannelSettings, len(pf.InputChannels)),
	}
	if p.OutputChannel == "" {
		return Profile{}, fmt.Errorf("profile %s: %w", name, ErrMissingOutput)
	}
	if _, err := content.ChatID(p.OutputChannel); err != nil {
		return Profile{}, fmt.Errorf("profile %s: output_channel_id: %w", name, err)
	}
	if len(pf.InputChannels) == 0 {
		return Profile{}, fmt.Errorf("profile %s: %w", name, ErrNoInputChannels)
	}

	def, err := decodeSettings(pf.Defaults, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: channel_settings_default: %w", name, err)
	}
	p.Defaults = def

	for key, override := range pf.InputChannels {
		cs, err := decodeSettings(pf.Defaults, override)
		if err != nil {
			return Profile{}, fmt.Errorf("profile %s: input_channels[%s]: %w", name, key, err)
		}
		nk := content.NormalizeKey(key)
		if nk == "" {
			return Profile{}, fmt.Errorf("profile %s: empty input channel key", name)
		}
		if _, dup := p.Inputs[nk]; dup {
			return Profile{}, fmt.Errorf("profile %s: input channel %s listed twice", name, nk)
		}
		p.Inputs[nk] = cs
	}
	return p, nil
}

// decodeSettings overlays override on defaults key by key, then decodes strictly.
func decodeSettings(defaults, override map[string]json.RawMessage) (ChannelSettings, error) {
	merged := make(map[string]json.RawMessage, len(defaults)+len(override))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return ChannelSettings{}, err
	}
	var f channelSettingsFile
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return ChannelSettings{}, err
	}
	return f.resolve(), nil
}

// GlobalTags maps tag group -> language -> regex -> tag name.
type GlobalTags map[string]map[string]map[string]string

// LoadTags reads the optional tags file. An empty path yields nil tags.
func LoadTags(path string) (GlobalTags, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	var f struct {
		GlobalTags GlobalTags `json:"global_tags"`
	}
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	return f.GlobalTags, nil
}

// FindProfile returns the profile with the given name.
func FindProfile(profiles []Profile, name string) (Profile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
}
