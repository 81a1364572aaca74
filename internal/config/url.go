package config

import "strings"

// NormalizeURL accepts input with or without a scheme, adds "https://"
// if absent, strips trailing slashes, and rejects anything but
// http/https (spec.md §6). Idempotent: NormalizeURL(NormalizeURL(x)) == NormalizeURL(x).
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	for strings.HasSuffix(s, "/") {
		s = strings.TrimSuffix(s, "/")
	}

	scheme, _, ok := strings.Cut(s, "://")
	if !ok || (scheme != "http" && scheme != "https") {
		return "", errInvalidScheme(scheme)
	}
	return s, nil
}

type schemeError string

func (e schemeError) Error() string { return "config: unsupported URL scheme " + string(e) }

func errInvalidScheme(scheme string) error { return schemeError(scheme) }
