package news

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// CustomRegion is the catch-all bucket for operator supplied feeds.
const CustomRegion = "CUSTOM"

// Entry is one item as returned by a feed source.
type Entry struct {
	Title   string
	Link    string
	Summary string
}

// Item is a candidate pulled from a feed, not yet scored or admitted.
type Item struct {
	Title           string
	NormalizedTitle string
	URL             string
	Region          string
	Body            string
	Summary         string
	SourceDomain    string
}

// Scored is a candidate with its severity attached.
type Scored struct {
	Item
	Severity int
	Critical bool
}

// SentRecord is the persisted trace of a dispatched alert.
type SentRecord struct {
	URL       string    `json:"url"`
	SentAt    time.Time `json:"sent_at"`
	Title     string    `json:"title"`
	TitleHash string    `json:"title_hash"`
	Critical  bool      `json:"critical"`
	Region    string    `json:"region,omitempty"`
	Source    string    `json:"source,omitempty"`
	Severity  int       `json:"severity,omitempty"`
}

// NewItem builds a candidate from a feed entry, filling the derived fields.
func NewItem(e Entry, region string) Item {
	title := strings.TrimSpace(e.Title)
	link := strings.TrimSpace(e.Link)
	return Item{
		Title:           title,
		NormalizedTitle: NormalizeTitle(title),
		URL:             link,
		Region:          region,
		Summary:         strings.TrimSpace(e.Summary),
		SourceDomain:    SourceDomain(link),
	}
}

// Valid reports whether the candidate has both a title and a link.
func (i Item) Valid() bool {
	return i.Title != "" && i.URL != ""
}

// Score attaches a severity, marking the result critical at or above criticalAt.
func (i Item) Score(severity, criticalAt int) Scored {
	return Scored{Item: i, Severity: severity, Critical: severity >= criticalAt}
}

// Record turns a dispatched item into its persistent form.
func (s Scored) Record(at time.Time) SentRecord {
	return SentRecord{
		URL:       s.URL,
		SentAt:    at.UTC(),
		Title:     s.Title,
		TitleHash: TitleHash(s.Title),
		Critical:  s.Critical,
		Region:    s.Region,
		Source:    s.SourceDomain,
		Severity:  s.Severity,
	}
}

// dashSeparators split a headline from an outlet name appended by many feeds,
// e.g. "Quake hits Turkey - BBC News". Datelines such as "Sudan - ..." use the
// same separators, so only a short trailing segment counts as a suffix.
var dashSeparators = []string{" - ", " – ", " — "}

const maxSuffixWords = 4

// NormalizeTitle lowercases, strips a trailing source suffix and collapses
// whitespace. Everything from the first " | " is dropped. After a dash only
// the last segment is dropped, and only when it is at most four words and
// shorter than the headline before it.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	if idx := strings.Index(t, " | "); idx > 0 {
		t = t[:idx]
	}
	cut, width := -1, 0
	for _, sep := range dashSeparators {
		if idx := strings.LastIndex(t, sep); idx > cut {
			cut, width = idx, len(sep)
		}
	}
	if cut > 0 {
		head := strings.Fields(t[:cut])
		tail := strings.Fields(t[cut+width:])
		if len(tail) > 0 && len(tail) <= maxSuffixWords && len(tail) < len(head) {
			t = t[:cut]
		}
	}
	return strings.Join(strings.Fields(t), " ")
}

// TitleHash is a stable hash of the normalized title.
func TitleHash(title string) string {
	sum := sha256.Sum256([]byte(NormalizeTitle(title)))
	return hex.EncodeToString(sum[:])
}

// SourceDomain returns the registrable domain of link ("bbc.co.uk" for
// "https://www.bbc.co.uk/news/..."). Hosts the public suffix list cannot
// place fall back to the bare host without "www.".
func SourceDomain(link string) string {
	if link == "" {
		return "unknown"
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return strings.TrimPrefix(host, "www.")
}
