package ratebudget

import (
	"fmt"
	"io"
	"sort"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Read endpoint names used as quota table keys.
const (
	EndpointLikedBy     = "liked_by"
	EndpointRetweetedBy = "retweeted_by"
	EndpointQuotedBy    = "quoted_by"
	EndpointRepliesTo   = "replies_to"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Quota is an allowance of Calls per fixed Window.
type Quota struct {
	Calls  int           `yaml:"calls"`
	Window time.Duration `yaml:"-"`
}

type quotaYAML struct {
	Calls  int      `yaml:"calls"`
	Window Duration `yaml:"window"`
}

// Limiter builds a token bucket that paces calls evenly across the window.
func (q Quota) Limiter() *rate.Limiter {
	if q.Calls <= 0 || q.Window <= 0 {
		return rate.NewLimiter(0, 0)
	}
	return rate.NewLimiter(rate.Every(q.Window/time.Duration(q.Calls)), 1)
}

// QuotaTable maps read endpoint names to their quota.
type QuotaTable map[string]Quota

// DefaultQuotaTable is the published limit of 75 calls per 15 minutes on
// each engagement read endpoint.
func DefaultQuotaTable() QuotaTable {
	q := Quota{Calls: 75, Window: 15 * time.Minute}
	return QuotaTable{
		EndpointLikedBy:     q,
		EndpointRetweetedBy: q,
		EndpointQuotedBy:    q,
		EndpointRepliesTo:   q,
	}
}

// LoadQuotaTable reads a YAML document of the form:
//
//	liked_by:
//	  calls: 75
//	  window: 15m
func LoadQuotaTable(r io.Reader) (QuotaTable, error) {
	raw := map[string]quotaYAML{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode quota table: %w", err)
	}
	table := make(QuotaTable, len(raw))
	for name, q := range raw {
		if q.Calls <= 0 || q.Window.Duration <= 0 {
			return nil, fmt.Errorf("quota %q: calls and window must be positive", name)
		}
		table[name] = Quota{Calls: q.Calls, Window: q.Window.Duration}
	}
	return table, nil
}

// Binding returns the tightest quota in the table: the one allowing the
// fewest calls per minute. It is the constraint for interval and admission.
func (t QuotaTable) Binding() (string, Quota, bool) {
	if len(t) == 0 {
		return "", Quota{}, false
	}
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if perMinute(t[name]) < perMinute(t[best]) {
			best = name
		}
	}
	return best, t[best], true
}

// Limiters builds one limiter per endpoint.
func (t QuotaTable) Limiters() map[string]*rate.Limiter {
	out := make(map[string]*rate.Limiter, len(t))
	for name, q := range t {
		out[name] = q.Limiter()
	}
	return out
}

func perMinute(q Quota) float64 {
	return float64(q.Calls) / q.Window.Minutes()
}
