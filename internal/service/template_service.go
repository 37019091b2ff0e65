package service

import (
	"strings"

	"github.com/unclebandit/campaign-lifecycle/internal/model"
	"github.com/unclebandit/campaign-lifecycle/internal/reward"
)

// Templates are the texts of the two campaign posts.
type Templates struct {
	FirstPost  string
	SecondPost string
}

func DefaultTemplates() Templates {
	return Templates{
		FirstPost: "{name}\n\n{description}",
		SecondPost: "Rewards for engaging with this post, paid in {currency}:\n" +
			"comment {comment} | retweet {retweet} | like {like} | quote {quote}",
	}
}

// RenderPost substitutes campaign fields into template. Reward placeholders
// are rendered in whole units of the campaign currency.
func RenderPost(template string, c *model.Campaign) string {
	cur := reward.CurrencyOf(c)
	amount := func(v int64) string {
		d, err := reward.FromSmallestUnit(v, cur)
		if err != nil {
			return ""
		}
		return d.String()
	}
	currency := string(c.Type)
	if c.Type == model.TypeFungible && c.TokenID != nil {
		currency = *c.TokenID
	}

	message := template
	message = replace(message, "{name}", c.Name)
	message = replace(message, "{description}", c.Description)
	message = replace(message, "{comment}", amount(c.Rates.Comment))
	message = replace(message, "{retweet}", amount(c.Rates.Retweet))
	message = replace(message, "{like}", amount(c.Rates.Like))
	message = replace(message, "{quote}", amount(c.Rates.Quote))
	message = replace(message, "{currency}", currency)
	return message
}

func replace(template, placeholder, value string) string {
	if value == "" {
		value = "<unknown>"
	}
	return strings.ReplaceAll(template, placeholder, value)
}
