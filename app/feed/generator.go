package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Listing is one processed catalog entry as written back out to XML.
type Listing struct {
	Columns   []string
	Fields    *Fields
	ImageURLs []string
}

type Generator struct {
	version string
}

func NewGenerator(version string) *Generator {
	return &Generator{version: version}
}

// Run renders listings as an Avito-style ads document with the composed
// image URLs in place of the original ones.
func (g *Generator) Run(listings []Listing) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(fmt.Sprintf("<!-- generated by listing-comb/%s at %s -->\n", g.version, time.Now().In(time.Local).Format(time.RFC3339)))
	buf.WriteString(`<Ads formatVersion="3" target="Avito.ru">`)
	buf.WriteString("\n")

	for i, listing := range listings {
		if err := g.writeListing(&buf, listing); err != nil {
			return nil, fmt.Errorf("failed to write listing %d: %w", i, err)
		}
	}

	buf.WriteString("</Ads>\n")

	return buf.Bytes(), nil
}

func (g *Generator) writeListing(buf *bytes.Buffer, listing Listing) error {
	buf.WriteString("  <Ad>\n")

	for _, column := range listing.Columns {
		if column == ImageURLsColumn || column == ImagesElement {
			continue
		}
		if !g.isName(column) {
			return fmt.Errorf("invalid element name %q", column)
		}

		value := listing.Fields.Get(column)
		if column == DescriptionField {
			g.writeCDATA(buf, column, value, 4)
			continue
		}
		g.writeElement(buf, column, value, 4)
	}

	if len(listing.ImageURLs) > 0 {
		buf.WriteString("    <Images>\n")
		for _, url := range listing.ImageURLs {
			buf.WriteString("      <Image url=\"")
			xml.EscapeText(buf, []byte(url))
			buf.WriteString("\"/>\n")
		}
		buf.WriteString("    </Images>\n")
	}

	buf.WriteString("  </Ad>\n")
	return nil
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	buf.WriteString(strings.Repeat(" ", indent))
	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *Generator) writeCDATA(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	buf.WriteString(strings.Repeat(" ", indent))
	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	buf.WriteString(cdataOpen)
	// a literal terminator has to be split across two sections
	buf.WriteString(strings.ReplaceAll(StripCDATA(content), cdataClose, "]]"+cdataClose+cdataOpen+">"))
	buf.WriteString(cdataClose)
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *Generator) isName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !letter {
			return false
		}
		if !letter && r != '-' && r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
