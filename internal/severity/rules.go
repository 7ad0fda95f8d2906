package severity

import (
	"regexp"
	"strings"
)

// Matcher is a boolean presence test against a lowercased haystack.
type Matcher interface {
	Match(haystack string) bool
}

// Regex matches a compiled regular expression.
type Regex struct{ re *regexp.Regexp }

// NewRegex compiles pattern, panicking on a bad built-in pattern.
func NewRegex(pattern string) Regex {
	return Regex{re: regexp.MustCompile(pattern)}
}

func (r Regex) Match(haystack string) bool { return r.re.MatchString(haystack) }

// AnyOf matches when one of the words or phrases is present. Single words of
// three letters or fewer must stand alone, so "uav" never fires on "suave".
type AnyOf struct {
	words []string
	short []*regexp.Regexp
}

func NewAnyOf(words ...string) AnyOf {
	var m AnyOf
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if !strings.Contains(w, " ") && len(w) <= 3 {
			m.short = append(m.short, regexp.MustCompile(`\b`+regexp.QuoteMeta(w)+`\b`))
			continue
		}
		m.words = append(m.words, w)
	}
	return m
}

func (a AnyOf) Match(haystack string) bool {
	for _, w := range a.words {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	for _, re := range a.short {
		if re.MatchString(haystack) {
			return true
		}
	}
	return false
}

// Rule is one weighted entry of a scoring table.
type Rule struct {
	Name    string
	Matcher Matcher
	Weight  int
}

// DefaultRules covers kinetic, instability, disaster and severity-cue terms.
func DefaultRules() []Rule {
	return []Rule{
		{"kinetic", NewRegex(`\b(air ?strikes?|strikes?|shelling|artillery|missiles?|rockets?|drones?|uav|explosions?|blasts?|bombs?|bombing|suicide attack)\b`), 3},
		{"armed-violence", NewRegex(`\b(assassination|ambush|clash(es)?|firefight|shooting|mass shooting|attacks?|raids?)\b`), 3},
		{"hostilities", NewRegex(`\b(ceasefire|truce|hostages?|kidnap(ped|ping)?|abduction)\b`), 2},
		{"armed-actors", NewRegex(`\b(military|troops|brigade|battalion|militia|rebels|insurgents|terrorists?)\b`), 1},
		{"instability", NewRegex(`\b(coup|martial law|state of emergency|sanctions?|unrest|protests?|riots?)\b`), 3},
		{"movement-restrictions", NewRegex(`\b(blockade|border closure|evacuations?|curfew)\b`), 2},
		{"natural-disaster", NewRegex(`\b(earthquake|aftershocks?|tsunami|cyclone|hurricane|typhoon|tornado|floods?|flooding|wildfires?|landslides?|eruption|volcano)\b`), 3},
		{"health-emergency", NewRegex(`\b(famine|cholera|outbreak|epidemic|pandemic|disease)\b`), 2},
		{"casualties", NewRegex(`\b(killed|dead|deaths|fatalities|casualties|wounded|injured)\b`), 2},
		{"amplifiers", NewRegex(`\b(massive|major|deadly|severe|devastating|worst)\b`), 1},
	}
}

// DefaultBlacklist vetoes off-topic categories.
func DefaultBlacklist() []Matcher {
	return []Matcher{
		NewRegex(`\b(football|soccer|cricket|rugby|tennis|golf|nba|nfl|formula 1|grand prix|olympics?|world cup|premier league|champions league)\b`),
		NewRegex(`\b(box office|movie|film festival|album|concert|oscars?|grammys?|emmys?|netflix|tv series|reality show)\b`),
		NewRegex(`\b(celebrity|celebrities|kardashian|royal wedding|red carpet|fashion week|gossip)\b`),
		NewRegex(`\b(recipe|horoscope|lottery|crossword)\b`),
	}
}

// DefaultRegionBonus adds weight for terms common in regions the base table
// under-covers.
func DefaultRegionBonus() []Rule {
	return []Rule{
		{"armed-groups", NewAnyOf("al-shabaab", "al shabaab", "boko haram", "iswap", "jnim", "rsf", "m23", "adf", "wagner", "farc", "eln", "cartel"), 2},
		{"local-violence", NewAnyOf("banditry", "bandits", "gunmen", "xenophobic", "load shedding", "looting", "gang violence"), 1},
		{"displacement", NewAnyOf("displaced", "refugees", "humanitarian", "drought", "food insecurity"), 1},
	}
}

// DefaultBoostRegions lists regions that receive the bonus table.
var DefaultBoostRegions = []string{"WEST_EAST_AFRICA", "SOUTHERN_AFRICA", "SOUTH_AMERICA"}
