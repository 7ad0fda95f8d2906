package app

import (
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/deusflow/crisiswatch/internal/news"
)

// formatAlert renders one alert in Telegram HTML.
func formatAlert(s news.Scored, summary string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("<b>%s</b>\n", html.EscapeString(s.Title)))
	b.WriteString(fmt.Sprintf("<i>Region:</i> %s  •  <i>Source:</i> %s\n\n",
		html.EscapeString(regionLabel(s.Region)), html.EscapeString(s.SourceDomain)))

	if summary = strings.TrimSpace(summary); summary != "" {
		b.WriteString(html.EscapeString(summary))
		b.WriteString("\n\n")
	}

	b.WriteString(fmt.Sprintf("🔗 <a href=\"%s\">Full report</a>", html.EscapeString(s.URL)))
	return b.String()
}

// regionLabel turns "WEST_EAST_AFRICA" into "West East Africa".
func regionLabel(region string) string {
	words := strings.Fields(strings.ReplaceAll(region, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func (r Report) heartbeat() string {
	if r.Quiet {
		return "Heartbeat: quiet hours, cycle skipped."
	}
	return fmt.Sprintf("Heartbeat: polled %d feeds, saw %d items, scored %d, passed %d, sent %d.",
		r.FeedsPolled, r.Seen, r.Scored, r.Passed, r.Sent)
}
