package common

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
)

// urlPattern matches scheme-prefixed URLs in free text, one per line
var urlPattern = regexp.MustCompile(`\w+://[^\s]+`)

// NormalizeURL parses raw and returns its canonical string form.
// Only absolute http(s) URLs with a host are accepted.
func NormalizeURL(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if parsed.Host == "" {
		return "", false
	}

	return parsed.String(), true
}

// NormalizeURLs normalizes every entry of raws, dropping the ones that do not parse.
// Duplicates are preserved; the queue controller collapses them.
func NormalizeURLs(raws []string, logger arbor.ILogger) []string {
	urls := make([]string, 0, len(raws))
	for _, raw := range raws {
		normalized, ok := NormalizeURL(raw)
		if !ok {
			if logger != nil {
				logger.Warn().Str("url", raw).Msg("Skipping invalid URL")
			}
			continue
		}
		urls = append(urls, normalized)
	}
	return urls
}

// ExtractURLs finds URLs in a pasted block of text, in order of appearance
func ExtractURLs(text string, logger arbor.ILogger) []string {
	return NormalizeURLs(urlPattern.FindAllString(text, -1), logger)
}
