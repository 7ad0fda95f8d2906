// Package severity turns headline and article text into an integer crisis
// score using ordered tables of weighted lexical rules.
package severity

import (
	"regexp"
	"strings"
)

var numericCue = regexp.MustCompile(`\b(\d{2,}|dozens|scores|hundreds|thousands)\b`)

const numericCueBonus = 1

// Scorer is immutable after construction and safe for concurrent use.
type Scorer struct {
	rules        []Rule
	blacklist    []Matcher
	regionBonus  []Rule
	boostRegions map[string]bool
}

type Option func(*Scorer)

func WithRules(r []Rule) Option { return func(s *Scorer) { s.rules = r } }
func WithBlacklist(b []Matcher) Option { return func(s *Scorer) { s.blacklist = b } }
func WithRegionBonus(r []Rule) Option { return func(s *Scorer) { s.regionBonus = r } }
func WithBoostRegions(rs []string) Option {
	return func(s *Scorer) {
		s.boostRegions = make(map[string]bool, len(rs))
		for _, r := range rs {
			if r = strings.ToUpper(strings.TrimSpace(r)); r != "" {
				s.boostRegions[r] = true
			}
		}
	}
}

// New returns a Scorer using the default tables unless overridden.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		rules:       DefaultRules(),
		blacklist:   DefaultBlacklist(),
		regionBonus: DefaultRegionBonus(),
	}
	WithBoostRegions(DefaultBoostRegions)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns 0 on a blacklist hit, otherwise the sum of matching rule
// weights plus the numeric cue and region bonuses.
func (s *Scorer) Score(title, body, region string) int {
	score, _ := s.evaluate(title, body, region)
	return score
}

// Explain returns the score together with the names of the rules that fired.
func (s *Scorer) Explain(title, body, region string) (int, []string) {
	return s.evaluate(title, body, region)
}

func (s *Scorer) evaluate(title, body, region string) (int, []string) {
	haystack := strings.ToLower(title + "\n" + body)

	for _, m := range s.blacklist {
		if m.Match(haystack) {
			return 0, []string{"blacklist"}
		}
	}

	score := 0
	var fired []string
	for _, r := range s.rules {
		if r.Matcher.Match(haystack) {
			score += r.Weight
			fired = append(fired, r.Name)
		}
	}
	if numericCue.MatchString(haystack) {
		score += numericCueBonus
		fired = append(fired, "numeric-cue")
	}
	if s.boostRegions[strings.ToUpper(region)] {
		for _, r := range s.regionBonus {
			if r.Matcher.Match(haystack) {
				score += r.Weight
				fired = append(fired, "region:"+r.Name)
			}
		}
	}
	if score < 0 {
		score = 0
	}
	return score, fired
}
