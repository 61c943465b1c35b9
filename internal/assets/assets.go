// Package assets resolves stored sound references to locators clients can
// fetch. Static file serving itself is out of scope; the resolver only maps
// names to URLs.
package assets

import "strings"

// Resolver maps a sound reference to an externally fetchable locator.
// An empty reference resolves to an empty locator.
type Resolver interface {
	Sound(name string) string
}

// StaticResolver prefixes references with the static asset base URL.
type StaticResolver struct {
	BaseURL string
}

// Sound resolves a sound reference against the base URL.
func (r StaticResolver) Sound(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSuffix(r.BaseURL, "/") + "/" + strings.TrimPrefix(name, "/")
}
