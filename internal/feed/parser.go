package feed

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
	"github.com/secstack/threatvault/internal/store"
)

// Parse extracts raw indicators from a feed payload. Individual malformed
// entries are skipped and counted; only an unreadable payload as a whole is
// an error.
func Parse(format store.FeedFormat, payload []byte) (items []RawItem, skipped int, err error) {
	switch format {
	case store.FormatJSON:
		return parseJSON(payload)
	case store.FormatXML:
		return parseXML(payload)
	case store.FormatCSV:
		return parseCSV(payload)
	case store.FormatText:
		return parseText(payload)
	default:
		return nil, 0, vaulterrors.PermanentFeed(vaulterrors.ErrCodeFeedConfig,
			"unknown feed format "+string(format), nil)
	}
}

// jsonEntry covers the common JSON feed shapes: URLhaus entries carry url
// and url_status, MISP attributes carry value and type, generic feeds carry
// value directly.
type jsonEntry struct {
	Value     string   `json:"value"`
	Type      string   `json:"type"`
	Category  string   `json:"category"`
	URL       string   `json:"url"`
	URLStatus string   `json:"url_status"`
	Threat    string   `json:"threat"`
	Tags      []string `json:"tags"`
	ToIDS     bool     `json:"to_ids"`
	Deleted   bool     `json:"deleted"`
}

type jsonDocument struct {
	// URLhaus download dump
	URLhaus []jsonEntry `json:"urlhaus"`
	// MISP restSearch response
	Response struct {
		Event []struct {
			Attribute []jsonEntry `json:"Attribute"`
		} `json:"Event"`
	} `json:"response"`
}

func parseJSON(payload []byte) ([]RawItem, int, error) {
	var items []RawItem
	var skipped int

	// A top-level array is the generic shape.
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "[") {
		var entries []jsonEntry
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, 0, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedParse,
				"failed to parse JSON feed", err)
		}
		for _, e := range entries {
			if item, ok := entryToItem(e); ok {
				items = append(items, item)
			} else {
				skipped++
			}
		}
		return items, skipped, nil
	}

	var doc jsonDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, 0, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedParse,
			"failed to parse JSON feed", err)
	}

	for _, e := range doc.URLhaus {
		if e.URLStatus != "online" {
			skipped++
			continue
		}
		if e.URL == "" {
			skipped++
			continue
		}
		meta := map[string]string{}
		if e.Threat != "" {
			meta["threat"] = e.Threat
		}
		if len(e.Tags) > 0 {
			meta["tags"] = strings.Join(e.Tags, ",")
		}
		items = append(items, RawItem{Value: e.URL, Type: ioc.TypeURL, Metadata: meta})
	}

	for _, event := range doc.Response.Event {
		for _, attr := range event.Attribute {
			if !attr.ToIDS || attr.Deleted {
				skipped++
				continue
			}
			if item, ok := entryToItem(attr); ok {
				items = append(items, item)
			} else {
				skipped++
			}
		}
	}

	return items, skipped, nil
}

func entryToItem(e jsonEntry) (RawItem, bool) {
	value := e.Value
	if value == "" {
		value = e.URL
	}
	if strings.TrimSpace(value) == "" {
		return RawItem{}, false
	}
	item := RawItem{Value: value, Category: e.Category}
	switch strings.ToLower(e.Type) {
	case "domain", "hostname":
		item.Type = ioc.TypeDomain
	case "ip", "ip-dst", "ip-src", "ip_address":
		item.Type = ioc.TypeIP
	case "url", "uri":
		item.Type = ioc.TypeURL
	case "md5", "sha1", "sha256", "hash":
		item.Type = ioc.TypeHash
	case "email", "email-src", "email-dst":
		item.Type = ioc.TypeEmail
	}
	return item, true
}

// xmlFeed matches PhishTank-style documents: entry elements carrying a url
// child anywhere in the tree.
type xmlFeed struct {
	Entries []struct {
		URL string `xml:"url"`
	} `xml:"entry"`
}

func parseXML(payload []byte) ([]RawItem, int, error) {
	var doc xmlFeed
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, 0, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedParse,
			"failed to parse XML feed", err)
	}

	var items []RawItem
	var skipped int
	for _, entry := range doc.Entries {
		url := strings.TrimSpace(entry.URL)
		if url == "" {
			skipped++
			continue
		}
		items = append(items, RawItem{
			Value:    url,
			Type:     ioc.TypeURL,
			Metadata: map[string]string{"threat": "phishing"},
		})
	}
	return items, skipped, nil
}

// parseCSV reads value[,type[,category]] rows. A header row naming the
// columns is recognized and skipped.
func parseCSV(payload []byte) ([]RawItem, int, error) {
	reader := csv.NewReader(strings.NewReader(string(payload)))
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, vaulterrors.TransientFeed(vaulterrors.ErrCodeFeedParse,
			"failed to parse CSV feed", err)
	}

	var items []RawItem
	var skipped int
	for i, record := range records {
		if len(record) == 0 || strings.TrimSpace(record[0]) == "" {
			skipped++
			continue
		}
		value := strings.TrimSpace(record[0])
		if i == 0 && isCSVHeader(value) {
			continue
		}
		item := RawItem{Value: value}
		if len(record) > 1 {
			typ := ioc.IndicatorType(strings.ToLower(strings.TrimSpace(record[1])))
			if typ.IsValid() {
				item.Type = typ
			}
		}
		if len(record) > 2 {
			item.Category = strings.TrimSpace(record[2])
		}
		items = append(items, item)
	}
	return items, skipped, nil
}

func isCSVHeader(first string) bool {
	switch strings.ToLower(first) {
	case "value", "ioc", "indicator", "url", "domain":
		return true
	}
	return false
}

// parseText reads hosts-file and one-per-line feeds. Hosts lines
// ("127.0.0.1 bad.example.com") yield the domain; other non-comment lines
// are taken verbatim.
func parseText(payload []byte) ([]RawItem, int, error) {
	var items []RawItem
	var skipped int
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && (fields[0] == "127.0.0.1" || fields[0] == "0.0.0.0") {
			items = append(items, RawItem{Value: fields[1], Type: ioc.TypeDomain,
				Metadata: map[string]string{"threat": "malware"}})
			continue
		}
		if len(fields) == 1 {
			items = append(items, RawItem{Value: fields[0]})
			continue
		}
		skipped++
	}
	return items, skipped, nil
}
