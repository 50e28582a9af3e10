package classify

import (
	"net/mail"
	"strings"

	"golang.org/x/text/width"

	"github.com/sells-group/candidate-intake/internal/model"
)

// IsCandidate reports whether a message looks like a candidate application.
// Rules are tried in order: subject keyword, sender allow-list, then the
// allow-list inside the body for forwarded mail.
func (r Rules) IsCandidate(subject, body, sender string) bool {
	subj := fold(subject)
	for _, kw := range r.SubjectKeywords {
		if kw = fold(kw); kw != "" && strings.Contains(subj, kw) {
			return true
		}
	}

	from := strings.ToLower(sender)
	for _, a := range r.AllowedSenders {
		if a = strings.ToLower(a); a != "" && strings.Contains(from, a) {
			return true
		}
	}

	text := strings.ToLower(body)
	for _, a := range r.AllowedSenders {
		if a = strings.ToLower(a); a != "" && strings.Contains(text, a) {
			return true
		}
	}
	return false
}

// Media returns the lead-source label for a message. It never returns "".
func (r Rules) Media(sender, body string) model.Media {
	domain := SenderDomain(sender)

	if domain != "" {
		for _, mr := range r.MediaDomains {
			if matchesDomain(domain, mr.Domain) {
				return mr.Media
			}
		}
	}

	if r.IsRelay(sender) {
		text := strings.ToLower(body)
		for _, mr := range r.MediaDomains {
			if strings.Contains(text, strings.ToLower(mr.Domain)) {
				return mr.Media
			}
		}
		return model.MediaForwarded
	}

	return model.MediaUnclassified
}

// IsRelay reports whether the sender is one of the forwarding relays.
func (r Rules) IsRelay(sender string) bool {
	domain := SenderDomain(sender)
	if domain == "" {
		return false
	}
	for _, d := range r.RelayDomains {
		if matchesDomain(domain, d) {
			return true
		}
	}
	return false
}

// ExcludedDomains returns every domain that must not be taken as a
// customer address: the explicit exclusions plus all vendor and relay
// domains.
func (r Rules) ExcludedDomains() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range r.ExcludedEmailDomains {
		add(d)
	}
	for _, mr := range r.MediaDomains {
		add(mr.Domain)
	}
	for _, d := range r.RelayDomains {
		add(d)
	}
	return out
}

// SenderDomain extracts the lower-cased domain from a From value such as
// "Snapjob <snapjob@roxx.co.jp>".
func SenderDomain(sender string) string {
	addr := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[at+1:], "<> \t"))
}

func matchesDomain(domain, rule string) bool {
	rule = strings.ToLower(rule)
	return domain == rule || strings.HasSuffix(domain, "."+rule)
}

func fold(s string) string {
	return strings.ToLower(width.Fold.String(s))
}
