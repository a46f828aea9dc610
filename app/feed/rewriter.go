package feed

import "strings"

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"

	DefaultParagraphMarker = "</p><p>"
)

type Rewriter struct {
	cfg DescriptionConfig
}

func NewRewriter(cfg DescriptionConfig) *Rewriter {
	return &Rewriter{cfg: cfg}
}

// Run inserts the configured text into a listing description.
func (r *Rewriter) Run(description string) string {
	return Rewrite(description, r.cfg.Insertion, r.cfg.Marker, r.cfg.ParagraphMarker)
}

// Cleanup drops the seller boilerplate trailing a description.
func (r *Rewriter) Cleanup(description string) string {
	return Cleanup(description, r.cfg.UnwantedSuffix, r.cfg.BoilerplateMarker, r.cfg.BoilerplateTail)
}

// Rewrite places insertion right after the first marker, else right after the
// last paragraph boundary, else at the end. Inside a CDATA block only the inner
// content is touched.
func Rewrite(description, insertion, marker, paragraphMarker string) string {
	if insertion == "" {
		return description
	}
	return withinCDATA(description, func(text string) string {
		if marker != "" {
			if idx := strings.Index(text, marker); idx >= 0 {
				at := idx + len(marker)
				return text[:at] + insertion + text[at:]
			}
		}
		if paragraphMarker != "" {
			if idx := strings.LastIndex(text, paragraphMarker); idx >= 0 {
				return text[:idx] + insertion + text[idx:]
			}
		}
		return text + insertion
	})
}

// Cleanup strips an exact unwanted suffix, or failing that cuts everything
// from the first boilerplate marker and appends tail.
func Cleanup(description, suffix, marker, tail string) string {
	return withinCDATA(description, func(text string) string {
		if suffix != "" && strings.HasSuffix(text, suffix) {
			return strings.TrimSuffix(text, suffix)
		}
		if marker != "" {
			if idx := strings.Index(text, marker); idx >= 0 {
				return text[:idx] + tail
			}
		}
		return text
	})
}

func withinCDATA(text string, fn func(string) string) string {
	start := strings.Index(text, cdataOpen)
	if start < 0 {
		return fn(text)
	}
	end := strings.LastIndex(text, cdataClose)
	if end < start+len(cdataOpen) {
		return fn(text)
	}
	inner := text[start+len(cdataOpen) : end]
	return text[:start] + cdataOpen + fn(inner) + cdataClose + text[end+len(cdataClose):]
}
