package feedparse

import (
	"net/url"
	"path"
	"strings"
)

// normalizeImageKey reduces an image URL to its lowercased basename with any
// query string stripped, so the same file served with different cache-buster
// parameters or from mirror paths dedupes to one entry.
func normalizeImageKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Path == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.ToLower(path.Base(u.Path))
}

// imageHost returns the lowercased host of an image URL, empty if unparseable
func imageHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// dedupeImages removes duplicate image URLs by normalized basename, keeping
// first-seen order. When the result exceeds max (max > 0), URLs served from a
// preferred host are kept ahead of third-party mirrors before truncating.
func dedupeImages(urls []string, max int, preferredHosts []string) []string {
	if len(urls) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(urls))
	deduped := make([]string, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		key := normalizeImageKey(raw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, raw)
	}

	if max <= 0 || len(deduped) <= max {
		return deduped
	}

	if len(preferredHosts) > 0 {
		preferred := make(map[string]struct{}, len(preferredHosts))
		for _, h := range preferredHosts {
			preferred[strings.ToLower(h)] = struct{}{}
		}
		// Stable partition: preferred hosts first, original order within
		// each partition.
		ordered := make([]string, 0, len(deduped))
		var rest []string
		for _, u := range deduped {
			if _, ok := preferred[imageHost(u)]; ok {
				ordered = append(ordered, u)
			} else {
				rest = append(rest, u)
			}
		}
		deduped = append(ordered, rest...)
	}

	return deduped[:max]
}
