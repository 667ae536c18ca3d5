package access

import (
	"net/url"
	"strings"
)

// DefaultReturnPath is used when a requested return path is unsafe.
const DefaultReturnPath = "/dashboard"

// DefaultLoginPath is the authentication entry point.
const DefaultLoginPath = "/login"

// ReturnToParam is the query parameter carrying the return path.
const ReturnToParam = "returnTo"

// SanitizeReturnPath returns raw if it is a same-origin relative path and
// fallback otherwise. Absolute URLs, protocol-relative paths, backslash
// tricks and control characters are all rejected.
func SanitizeReturnPath(raw, fallback string) string {
	if fallback == "" {
		fallback = DefaultReturnPath
	}
	if !isSafeReturnPath(raw) {
		return fallback
	}
	return raw
}

func isSafeReturnPath(raw string) bool {
	if raw == "" || raw[0] != '/' {
		return false
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return false
	}
	for _, r := range raw {
		if r == '\\' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "" || u.Host != "" || u.User != nil {
		return false
	}
	// A percent-encoded slash can decode to "//host" in some routers.
	if strings.HasPrefix(u.Path, "//") {
		return false
	}
	return true
}

// LoginRedirect builds loginPath?returnTo=<sanitized route>. An unsafe route
// is replaced with fallback.
func LoginRedirect(loginPath, route, fallback string) (target, returnPath string) {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	returnPath = SanitizeReturnPath(route, fallback)
	q := url.Values{}
	q.Set(ReturnToParam, returnPath)
	return loginPath + "?" + q.Encode(), returnPath
}
