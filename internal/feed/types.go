// Package feed ingests external threat feeds: it fetches registered
// sources on their poll cadence, parses the payloads, classifies the
// extracted indicators, and stores them. Source failures move a source
// through the active/backoff/disabled lifecycle without touching other
// sources.
package feed

import (
	"time"

	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/store"
)

// RawItem is one indicator extracted from a feed payload before
// normalization and classification.
type RawItem struct {
	Value    string
	Type     ioc.IndicatorType // empty means detect from the value
	Category string
	Metadata map[string]string
}

// DefaultSources returns the stock feed catalogue. Sources needing an API
// key ship with a placeholder header the operator must replace.
func DefaultSources() []*store.FeedSource {
	return []*store.FeedSource{
		{
			Name:         "phishtank",
			Endpoint:     "http://data.phishtank.com/data/online-valid.xml",
			Format:       store.FormatXML,
			PollInterval: 30 * time.Minute,
			Priority:     2,
		},
		{
			Name:         "urlhaus",
			Endpoint:     "https://urlhaus.abuse.ch/downloads/json/",
			Format:       store.FormatJSON,
			PollInterval: 30 * time.Minute,
			Priority:     2,
		},
		{
			Name:         "malware-domain-list",
			Endpoint:     "https://www.malwaredomainlist.com/hostslist/hosts.txt",
			Format:       store.FormatText,
			PollInterval: time.Hour,
			Priority:     1,
		},
		{
			Name:         "misp",
			Endpoint:     "https://misp.example.com/events/restSearch",
			Format:       store.FormatJSON,
			PollInterval: 2 * time.Hour,
			Priority:     1,
			Headers:      map[string]string{"Authorization": "Bearer YOUR_MISP_TOKEN"},
		},
	}
}
