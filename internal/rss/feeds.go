package rss

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/crisiswatch/internal/news"
)

// Group is one region and its feeds, polled in order.
type Group struct {
	Region string
	Feeds  []string
}

// DefaultFeeds is the built-in region table.
var DefaultFeeds = map[string][]string{
	"GLOBAL": {
		"https://feeds.reuters.com/reuters/worldNews",
		"https://www.aljazeera.com/xml/rss/all.xml",
		"https://rss.dw.com/rdf/rss-en-world",
		"https://www.bbc.co.uk/news/world/rss.xml",
		"https://apnews.com/hub/apf-topnews?utm_source=apnews.com&utm_medium=referral&utm_campaign=rss",
	},
	"MIDDLE_EAST": {
		"https://english.alarabiya.net/.mrss",
		"https://www.jpost.com/Rss/RssFeedsHeadlines.aspx",
		"https://www.al-monitor.com/rss.xml",
		"https://www.arabnews.com/rss.xml",
	},
	"EUROPE": {
		"https://www.euronews.com/rss?level=theme&name=news",
		"https://www.bbc.co.uk/news/world/europe/rss.xml",
		"https://www.reuters.com/world/europe/rss",
	},
	"ASIA": {
		"https://www.reuters.com/world/asia-pacific/rss",
		"https://www.straitstimes.com/news/world/rss.xml",
		"https://www.thehindu.com/news/international/feeder/default.rss",
	},
	"WEST_EAST_AFRICA": {
		"https://www.theeastafrican.co.ke/feeds/rss/2754392-2754392-ydbrdf/index.xml",
		"https://www.reuters.com/world/africa/rss",
		"https://www.aljazeera.com/xml/rss/all.xml?region=africa",
	},
	"SOUTHERN_AFRICA": {
		"https://www.news24.com/news24/southafrica/rss",
		"https://ewn.co.za/RSS",
		"https://www.defenceweb.co.za/feed/",
	},
	"SOUTH_AMERICA": {
		"https://www.reuters.com/world/americas/rss",
		"https://www.bbc.co.uk/news/world/latin_america/rss.xml",
		"https://www.aljazeera.com/xml/rss/all.xml?region=latin-america",
	},
}

// FeedsConfig is the YAML override format:
//
//	regions:
//	  GLOBAL:
//	    - https://...
type FeedsConfig struct {
	Regions map[string][]string `yaml:"regions"`
}

// LoadFeeds reads a region -> feeds table from a YAML file.
func LoadFeeds(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	table := make(map[string][]string, len(cfg.Regions))
	for region, feeds := range cfg.Regions {
		table[strings.ToUpper(strings.TrimSpace(region))] = feeds
	}
	return table, nil
}

// BuildGroups orders the configured regions, skipping ones without feeds, and
// appends the custom group last.
func BuildGroups(regions []string, table map[string][]string, custom []string) []Group {
	var groups []Group
	for _, r := range regions {
		if feeds := table[r]; len(feeds) > 0 {
			groups = append(groups, Group{Region: r, Feeds: feeds})
		}
	}
	if len(custom) > 0 {
		groups = append(groups, Group{Region: news.CustomRegion, Feeds: custom})
	}
	return groups
}

// Regions lists the region labels of groups, in order.
func Regions(groups []Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Region
	}
	return out
}
