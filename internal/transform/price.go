package transform

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"relaygram/internal/config"
	"relaygram/internal/content"
)

var (
	rePriceLead  = regexp.MustCompile(`^[.,]+`)
	rePriceValue = regexp.MustCompile(`[ 0-9]+[,.]?[0-9]{0,2}`)

	roundAbove = decimal.NewFromInt(100)
	roundTo    = decimal.NewFromInt(10)
)

// pricePattern lets a "[  ]" separator class in a configured pattern also
// match emoji.
func pricePattern(p string) string {
	return strings.ReplaceAll(p, "[  ]", "[  "+emojiRanges+"]")
}

// priceRules picks prices, or prices_per_channel keyed by the channel a post
// was forwarded from. Unforwarded posts get no per-channel rules.
func priceRules(s config.ChannelSettings, forwardedFrom string) []config.PriceRule {
	if s.Prices != nil {
		return s.Prices
	}
	if s.PricesPerChannel == nil || forwardedFrom == "" {
		return nil
	}
	return s.PricesPerChannel[content.NormalizeKey(forwardedFrom)]
}

func (t *Transformer) changePrices(s config.ChannelSettings, forwardedFrom, text string) string {
	for _, rule := range priceRules(s, forwardedFrom) {
		re := t.re(pricePattern(rule.Pattern), compilePattern)
		if re == nil {
			continue
		}
		steps := s.ProgressiveValues
		if rule.ProgressiveValues != nil {
			steps = rule.ProgressiveValues
		}
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			found := m[:1]
			if re.NumSubexp() > 0 {
				found = m[1:]
			}
			for _, match := range found {
				text = increasePrice(text, rule, match, steps)
			}
		}
	}
	return text
}

// increasePrice rewrites the first number inside match and substitutes the
// result back into text. Anything that does not parse as a price is left as is.
func increasePrice(text string, rule config.PriceRule, match string, steps []config.ProgressiveValue) string {
	match = rePriceLead.ReplaceAllString(match, "")
	var raw string
	for _, v := range rePriceValue.FindAllString(match, -1) {
		if strings.TrimSpace(v) != "" {
			raw = strings.TrimSpace(v)
			break
		}
	}
	if raw == "" {
		return text
	}
	if len(strings.Split(strings.ReplaceAll(raw, ",", "."), ".")) > 2 {
		return text
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(strings.ReplaceAll(raw, " ", ""), ",", "."))
	if err != nil {
		return text
	}

	price = price.Add(rule.Value)
	price = price.Add(progressiveStep(price, steps))
	if price.GreaterThan(roundAbove) {
		price = price.Div(roundTo).Ceil().Mul(roundTo)
	}

	repl := price.String() + rule.Currency
	return strings.ReplaceAll(text, match, strings.ReplaceAll(match, raw, repl))
}

// progressiveStep returns the value of the last step whose limit price
// reaches, scanning in order and stopping at the first miss.
func progressiveStep(price decimal.Decimal, steps []config.ProgressiveValue) decimal.Decimal {
	inc := decimal.Zero
	for _, st := range steps {
		if price.LessThan(st.Limit) {
			break
		}
		inc = st.Value
	}
	return inc
}
