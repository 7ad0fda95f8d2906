package dedupe

import (
	"sort"
	"strings"
	"unicode"
)

// TokenSetRatio scores two strings 0-100 by word overlap, ignoring order,
// case, punctuation and repeated words. It follows the usual token_set_ratio
// definition: the shared tokens are compared against each side's full token
// set, and the leftover tokens against each other, with the best of the three
// normalized indel similarities returned. Titles that share a token and where
// one side's tokens are a subset of the other's score 100.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var sect, onlyA, onlyB []string
	for t := range ta {
		if _, ok := tb[t]; ok {
			sect = append(sect, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if _, ok := ta[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	if len(sect) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 100
	}

	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)
	sectStr := strings.Join(sect, " ")
	aStr := strings.Join(onlyA, " ")
	bStr := strings.Join(onlyB, " ")

	best := normalizedIndel(aStr, bStr)
	if len(sect) == 0 {
		return best
	}

	// sect versus sect+" "+rest differs only by the appended rest, so the
	// indel distance is its length plus the separator.
	sectLen := runeLen(sectStr)
	for _, rest := range []string{aStr, bStr} {
		dist := runeLen(rest) + 1
		total := sectLen + sectLen + dist
		if r := 100 * (1 - float64(dist)/float64(total)); r > best {
			best = r
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	set := make(map[string]struct{})
	for _, f := range strings.Fields(clean) {
		set[f] = struct{}{}
	}
	return set
}

// normalizedIndel is 100*(1 - indel/(len(a)+len(b))) where indel counts the
// insertions and deletions needed to turn a into b.
func normalizedIndel(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	dist := total - 2*lcs(ra, rb)
	return 100 * (1 - float64(dist)/float64(total))
}

func lcs(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func runeLen(s string) int { return len([]rune(s)) }
