package naming

import (
	"fmt"
	"strings"
	"time"
)

const (
	appPrefix = "mindroom"

	// accountSlugLen bounds the sanitized account fragment inside an app name
	accountSlugLen = 8
)

// Apps holds the four remote application names derived from one base app name.
type Apps struct {
	Main     string
	Backend  string
	Frontend string
	Matrix   string
}

// All returns the four application names, main first.
func (a Apps) All() []string {
	return []string{a.Main, a.Backend, a.Frontend, a.Matrix}
}

// UserFacing returns the three applications that carry public domains,
// TLS and resource limits (backend, frontend, matrix).
func (a Apps) UserFacing() []string {
	return []string{a.Backend, a.Frontend, a.Matrix}
}

// Endpoints holds the public https URLs of a provisioned instance.
type Endpoints struct {
	Frontend  string
	Backend   string
	Messaging string
}

// AppName derives the deterministic base application name for an account.
// The account identifier is sanitized to lowercase alphanumerics and
// truncated, so the result is a valid app name on the remote host.
func AppName(accountID string, ts time.Time) string {
	slug := sanitize(accountID)
	if len(slug) > accountSlugLen {
		slug = slug[:accountSlugLen]
	}
	if slug == "" {
		slug = "acct"
	}
	return fmt.Sprintf("%s-%s-%d", appPrefix, slug, ts.Unix())
}

// Subdomain derives the public-facing subdomain slug for a tier.
func Subdomain(tier string, ts time.Time) string {
	slug := sanitize(tier)
	if slug == "" {
		slug = string(TierStarter)
	}
	return fmt.Sprintf("%s-%d", slug, ts.Unix())
}

// AppsFor expands a base app name into the four named applications
// composing an instance.
func AppsFor(appName string) Apps {
	return Apps{
		Main:     appName,
		Backend:  appName + "-backend",
		Frontend: appName + "-frontend",
		Matrix:   appName + "-matrix",
	}
}

// DatabaseName returns the name of the postgres service shared by the
// backend and matrix applications.
func DatabaseName(appName string) string {
	return appName + "-db"
}

// CacheName returns the name of the redis service shared by the backend
// and matrix applications.
func CacheName(appName string) string {
	return appName + "-cache"
}

// DomainsFor returns the public domains of the three user-facing
// applications under the platform base domain, keyed by application name.
func DomainsFor(apps Apps, subdomain, baseDomain string) map[string]string {
	return map[string]string{
		apps.Frontend: fmt.Sprintf("%s.%s", subdomain, baseDomain),
		apps.Backend:  fmt.Sprintf("api-%s.%s", subdomain, baseDomain),
		apps.Matrix:   fmt.Sprintf("matrix-%s.%s", subdomain, baseDomain),
	}
}

// EndpointsFor returns the public https URLs for a subdomain under the
// platform base domain.
func EndpointsFor(subdomain, baseDomain string) Endpoints {
	return Endpoints{
		Frontend:  fmt.Sprintf("https://%s.%s", subdomain, baseDomain),
		Backend:   fmt.Sprintf("https://api-%s.%s", subdomain, baseDomain),
		Messaging: fmt.Sprintf("https://matrix-%s.%s", subdomain, baseDomain),
	}
}

// sanitize lowercases the input and strips everything that is not a
// letter or a digit.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
