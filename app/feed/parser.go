package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"

	"github.com/mmcdole/gofeed"
	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/text/encoding/htmlindex"
)

const itemElement = "Ad"

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

type fieldElement struct {
	Text  string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

type imageElement struct {
	XMLName xml.Name
	URL     string `xml:"url,attr"`
	Text    string `xml:",chardata"`
}

type imagesElement struct {
	Images []imageElement `xml:",any"`
}

// Run parses a feed snapshot. Items that cannot be used are reported as
// issues; only an unreadable document is an error.
func (p *Parser) Run(data []byte, feedConfig *Config) ([]Item, []Issue, error) {
	var (
		items  []Item
		issues []Issue
		err    error
	)

	switch cmp.Or(feedConfig.Format, FormatAvito) {
	case FormatAvito:
		items, issues, err = p.parseAvito(data, feedConfig)
	case FormatRSS:
		items, issues, err = p.parseRSS(data, feedConfig)
	default:
		return nil, nil, fmt.Errorf("unsupported feed format: %s", feedConfig.Format)
	}
	if err != nil {
		return nil, nil, err
	}

	items, dupIssues := dedupe(items)
	issues = append(issues, dupIssues...)

	for _, issue := range issues {
		slog.Warn("Feed item skipped", "feed", feedConfig.Name, "index", issue.Index, "id", issue.ExternalID, "reason", issue.Reason)
	}

	return items, issues, nil
}

func (p *Parser) parseAvito(data []byte, feedConfig *Config) ([]Item, []Issue, error) {
	parser := xpp.NewXMLPullParser(bytes.NewReader(data), false, charsetReader)

	var (
		items   []Item
		issues  []Issue
		index   int
		sawRoot bool
	)

	for {
		event, err := parser.Next()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
		}
		if event == xpp.EndDocument {
			break
		}
		if event != xpp.StartTag {
			continue
		}
		sawRoot = true
		if parser.Name != itemElement {
			continue
		}

		item, err := p.parseAd(parser)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse item %d: %w", index, err)
		}
		if reason := p.validate(item, feedConfig); reason != "" {
			issues = append(issues, Issue{Index: index, ExternalID: item.ExternalID, Reason: reason})
		} else {
			items = append(items, item)
		}
		index++
	}

	if !sawRoot {
		return nil, nil, fmt.Errorf("failed to parse feed: empty document")
	}

	return items, issues, nil
}

func (p *Parser) parseAd(parser *xpp.XMLPullParser) (Item, error) {
	item := Item{Fields: NewFields()}

	for {
		event, err := parser.Next()
		if err != nil {
			return item, err
		}
		if event == xpp.EndDocument {
			return item, io.ErrUnexpectedEOF
		}
		if event == xpp.EndTag && parser.Name == itemElement {
			break
		}
		if event != xpp.StartTag {
			continue
		}

		name := parser.Name
		if name == ImagesElement {
			var images imagesElement
			if err := parser.DecodeElement(&images); err != nil {
				return item, err
			}
			item.HasImages = true
			for _, image := range images.Images {
				if image.XMLName.Local != ImageElement {
					continue
				}
				if url := strings.TrimSpace(cmp.Or(image.URL, image.Text)); url != "" {
					item.RawImageURLs = append(item.RawImageURLs, url)
				}
			}
			continue
		}

		var field fieldElement
		if err := parser.DecodeElement(&field); err != nil {
			return item, err
		}

		item.Fields.Set(name, fieldValue(field, name == DescriptionField))
	}

	item.ExternalID = item.Fields.Get(IDField)
	item.Description = item.Fields.Get(DescriptionField)

	return item, nil
}

// fieldValue is the decoded text of a field element. Entities are resolved.
// keepCDATA leaves CDATA sections wrapped in their delimiters. An element
// with child markup keeps its inner XML as is.
func fieldValue(field fieldElement, keepCDATA bool) string {
	inner := strings.TrimSpace(field.Inner)
	if !strings.Contains(inner, "<") {
		return strings.TrimSpace(field.Text)
	}

	var b strings.Builder
	rest := inner
	for rest != "" {
		start := strings.Index(rest, cdataOpen)
		if start < 0 {
			start = len(rest)
		}
		text := rest[:start]
		if strings.Contains(text, "<") {
			return inner
		}
		b.WriteString(html.UnescapeString(text))
		if start == len(rest) {
			break
		}

		end := strings.Index(rest[start:], cdataClose)
		if end < 0 {
			return inner
		}
		end += start
		if keepCDATA {
			b.WriteString(rest[start : end+len(cdataClose)])
		} else {
			b.WriteString(rest[start+len(cdataOpen) : end])
		}
		rest = rest[end+len(cdataClose):]
	}

	return strings.TrimSpace(b.String())
}

func (p *Parser) parseRSS(data []byte, feedConfig *Config) ([]Item, []Issue, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	var (
		items  []Item
		issues []Issue
	)

	for i, entry := range parsed.Items {
		item := p.normalizeItem(entry)
		if reason := p.validate(item, feedConfig); reason != "" {
			issues = append(issues, Issue{Index: i, ExternalID: item.ExternalID, Reason: reason})
			continue
		}
		items = append(items, item)
	}

	return items, issues, nil
}

func (p *Parser) normalizeItem(entry *gofeed.Item) Item {
	item := Item{
		ExternalID:  strings.TrimSpace(cmp.Or(entry.GUID, entry.Link)),
		Fields:      NewFields(),
		Description: cmp.Or(entry.Description, entry.Content),
	}

	item.Fields.Set(IDField, item.ExternalID)
	item.Fields.Set("Title", entry.Title)
	item.Fields.Set(DescriptionField, item.Description)
	if entry.Link != "" {
		item.Fields.Set("Link", entry.Link)
	}
	if len(entry.Categories) > 0 {
		item.Fields.Set("Category", strings.Join(entry.Categories, ", "))
	}

	if entry.Image != nil && entry.Image.URL != "" {
		item.RawImageURLs = append(item.RawImageURLs, entry.Image.URL)
	}
	for _, enclosure := range entry.Enclosures {
		if enclosure != nil && enclosure.URL != "" && strings.HasPrefix(enclosure.Type, "image/") {
			item.RawImageURLs = append(item.RawImageURLs, enclosure.URL)
		}
	}
	item.HasImages = len(item.RawImageURLs) > 0

	return item
}

func (p *Parser) validate(item Item, feedConfig *Config) string {
	if item.ExternalID == "" {
		return "missing identifier"
	}
	for _, field := range feedConfig.Settings.RequiredFields {
		if strings.TrimSpace(item.Fields.Get(field)) == "" {
			return fmt.Sprintf("missing %s", field)
		}
	}
	if !item.HasImages && !feedConfig.Settings.AllowMissingImages {
		return "missing images section"
	}
	return ""
}

func dedupe(items []Item) ([]Item, []Issue) {
	seen := make(map[string]bool, len(items))
	unique := make([]Item, 0, len(items))
	var issues []Issue

	for i, item := range items {
		if seen[item.ExternalID] {
			issues = append(issues, Issue{Index: i, ExternalID: item.ExternalID, Reason: "duplicate identifier"})
			continue
		}
		seen[item.ExternalID] = true
		unique = append(unique, item)
	}

	return unique, issues
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
