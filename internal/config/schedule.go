package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a parsed relay schedule string. Cron holds the expression
// for SpecCron, Every the period for SpecInterval. Source records which
// notation was used: "cron", "duration" or "hhmm".
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string
}

var hhmmRe = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule accepts
//
//	"*/45 * * * *", "@hourly", "@every 45m"   cron
//	"45m", "2h30m"                            interval as a Go duration
//	"00:45"                                   interval as hours:minutes
//
// A "cron:" prefix forces cron; "interval:" or "every:" forces an interval.
// Cron expressions are not compiled here; the scheduler does that.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, fmt.Errorf("cron expression required after %q", "cron:")
		}
		return cronSpec(rest), nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalSpec(rest)
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return cronSpec(s), nil
	}
	if ps, err := intervalSpec(s); err == nil {
		return ps, nil
	} else if hhmmRe.MatchString(s) {
		return ParsedSpec{}, err
	}
	return ParsedSpec{}, fmt.Errorf("invalid schedule %q: want a cron expression, HH:MM or a duration such as 45m", raw)
}

func cronSpec(expr string) ParsedSpec {
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}
}

func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	ps := ParsedSpec{Kind: SpecInterval}
	if m := hhmmRe.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		ps.Every = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		ps.Source = "hhmm"
	} else {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q", v)
		}
		ps.Every = d
		ps.Source = "duration"
	}
	if ps.Every <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval %q must be positive", v)
	}
	return ps, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}
