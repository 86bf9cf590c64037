// Package sourceid derives deterministic IDs for content sources, so the same
// file, URL or text always maps to the same ID across runs.
package sourceid

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path/filepath"
	"strings"
)

const (
	filePrefix    = "file:"
	urlPrefix     = "url:"
	contentPrefix = "text:"
)

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// File returns the ID for a file path. Paths are cleaned first.
func File(path string) string {
	return filePrefix + digest(filepath.Clean(path))
}

// URL returns the ID for a web address. Scheme and host are case-folded, and
// the fragment and a trailing slash are dropped. Unparseable input is hashed as is.
func URL(raw string) string {
	return urlPrefix + digest(NormalizeURL(raw))
}

// NormalizeURL canonicalises raw for ID purposes.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawPath = ""
	return u.String()
}

// Content returns the ID for raw text. Runs of whitespace count as one space.
func Content(text string) string {
	return contentPrefix + digest(strings.Join(strings.Fields(text), " "))
}

// For picks the most stable ID available: the URL when there is one,
// otherwise the content hash.
func For(rawURL, content string) string {
	if strings.TrimSpace(rawURL) != "" {
		return URL(rawURL)
	}
	return Content(content)
}
