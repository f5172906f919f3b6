package domain

import (
	"strings"
)

var forbiddenHeaderNames = map[string]struct{}{
	"user-agent":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"age":                 {},
	"cache-control":       {},
	"clear-site-data":     {},
	"expires":             {},
	"pragma":              {},
	"warning":             {},
	"content-length":      {},
	"content-type":        {},
	"content-encoding":    {},
	"content-language":    {},
	"content-location":    {},
}

var forbiddenHeaderPrefixes = []string{
	"x-amz-",
	"x-amzn-",
	"x-google",
	"x-goog-",
	"x-gfe",
	"x-azure-",
	"x-fd-",
	"x-svix-",
	"svix-",
	"x-hookline-",
	"hookline-",
	"webhook-",
}

// IsForbiddenHeader reports whether a custom header would clash with the
// transport or with headers the service sets itself.
func IsForbiddenHeader(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if _, ok := forbiddenHeaderNames[lower]; ok {
		return true
	}
	for _, prefix := range forbiddenHeaderPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidHeaderName reports whether name is an RFC 7230 token.
func ValidHeaderName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return false
		}
	}
	return true
}

// ValidHeaderValue rejects control characters (tab excepted) and non-ASCII.
func ValidHeaderValue(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\t' {
			continue
		}
		if c < 0x20 || c >= 0x7f {
			return false
		}
	}
	return true
}

func ValidateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if !ValidHeaderName(name) {
			return ErrValidationf("invalid header name %q", name)
		}
		if IsForbiddenHeader(name) {
			return ErrValidationf("header %q is not allowed", name)
		}
		if !ValidHeaderValue(value) {
			return ErrValidationf("invalid value for header %q", name)
		}
	}
	return nil
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
