// Package extract turns recruiting-portal email bodies into customer
// candidates using a fixed, ordered table of labelled-field rules.
package extract

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/width"

	"github.com/sells-group/candidate-intake/internal/model"
)

var (
	blockTagRe  = regexp.MustCompile(`(?i)<\s*(?:br|/p|/div|/tr|/li|/h[1-6]|/table|/td|/th)\b[^>]*>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
	blankLineRe = regexp.MustCompile(`\n{3,}`)
)

// Extractor applies a rule table to message bodies.
type Extractor struct {
	rules    []Rule
	excluded []string
}

// New returns an Extractor using DefaultRules. Addresses on any of the
// excluded domains (or their subdomains) are never chosen as the
// customer's email.
func New(excludedDomains []string) *Extractor {
	return NewWithRules(DefaultRules(), excludedDomains)
}

// NewWithRules returns an Extractor with a custom rule table.
func NewWithRules(rules []Rule, excludedDomains []string) *Extractor {
	ex := make([]string, 0, len(excludedDomains))
	for _, d := range excludedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			ex = append(ex, d)
		}
	}
	return &Extractor{rules: rules, excluded: ex}
}

// Extract runs every rule once against the normalized body. Fields whose
// rule does not match are left out. The result is never nil.
func (e *Extractor) Extract(body string) model.Candidate {
	out := model.Candidate{}
	text := Normalize(body)
	if strings.TrimSpace(text) == "" {
		return out
	}

	for _, r := range e.rules {
		if _, done := out[r.Field]; done {
			continue
		}
		raw, ok := r.match(text)
		if !ok {
			continue
		}
		if v, ok := r.apply(raw); ok {
			out[r.Field] = v
		}
	}

	if email, ok := SelectEmail(text, e.excluded); ok {
		out[model.FieldEmail] = email
	}
	return out
}

// Normalize converts an HTML or plain-text body into matchable text:
// block-level tags become line breaks, remaining markup is dropped,
// entities are unescaped and full-width Latin characters are folded to
// their ASCII forms.
func Normalize(body string) string {
	s := strings.ReplaceAll(body, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blockTagRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = width.Fold.String(s)
	return blankLineRe.ReplaceAllString(s, "\n\n")
}
