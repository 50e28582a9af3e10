package extract

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)

// SelectEmail scans text for address-like tokens and returns the first one
// whose domain is not excluded, lower-cased.
func SelectEmail(text string, excluded []string) (string, bool) {
	for _, tok := range emailRe.FindAllString(text, -1) {
		addr := strings.ToLower(strings.Trim(tok, "."))
		at := strings.LastIndexByte(addr, '@')
		if at <= 0 {
			continue
		}
		if IsExcludedDomain(addr[at+1:], excluded) {
			continue
		}
		return addr, true
	}
	return "", false
}

// IsExcludedDomain reports whether domain equals, or is a subdomain of, any
// excluded domain.
func IsExcludedDomain(domain string, excluded []string) bool {
	domain = strings.ToLower(domain)
	for _, ex := range excluded {
		if domain == ex || strings.HasSuffix(domain, "."+ex) {
			return true
		}
	}
	return false
}
