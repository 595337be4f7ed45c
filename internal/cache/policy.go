package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy decides which requests may be answered from the cache and which
// responses may be stored.
type Policy struct {
	DefaultTTL time.Duration
	KeyHeaders []string
}

// Key returns the fingerprint of r under this policy.
func (p Policy) Key(r *http.Request) string {
	return Fingerprint(r, p.KeyHeaders)
}

// CanLookup reports whether r may be answered from the cache.
func (p Policy) CanLookup(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if r.Header.Get("Authorization") != "" {
		return false
	}

	cc := parseCacheControl(r.Header.Values("Cache-Control"))
	if cc.has("no-cache") || cc.has("no-store") {
		return false
	}
	return !strings.EqualFold(r.Header.Get("Pragma"), "no-cache")
}

// CanStore reports whether res, received for r, may be stored, and returns
// the metadata to store it with. Only GET populates the cache.
func (p Policy) CanStore(r *http.Request, res *http.Response, now time.Time) (Meta, bool) {
	if r.Method != http.MethodGet || !p.CanLookup(r) {
		return Meta{}, false
	}
	if res.StatusCode != http.StatusOK {
		return Meta{}, false
	}
	if len(res.Header.Values("Set-Cookie")) > 0 {
		return Meta{}, false
	}

	cc := parseCacheControl(res.Header.Values("Cache-Control"))
	if cc.has("no-store") || cc.has("private") || cc.has("no-cache") {
		return Meta{}, false
	}
	if !p.coversVary(res.Header.Values("Vary")) {
		return Meta{}, false
	}

	ttl, ok := p.ttl(cc, res.Header, now)
	if !ok {
		return Meta{}, false
	}

	header := res.Header.Clone()
	header.Del("Content-Length")

	meta := Meta{StatusCode: res.StatusCode, Header: header}
	if ttl > 0 {
		meta.Expires = now.Add(ttl)
	}
	return meta, true
}

// ttl returns the freshness lifetime; zero means no expiry. ok is false when
// the response is already stale.
func (p Policy) ttl(cc cacheControl, header http.Header, now time.Time) (time.Duration, bool) {
	for _, directive := range []string{"s-maxage", "max-age"} {
		if v, found := cc[directive]; found {
			secs, err := strconv.ParseInt(v, 10, 64)
			if err != nil || secs <= 0 {
				return 0, false
			}
			return time.Duration(secs) * time.Second, true
		}
	}

	if raw := header.Get("Expires"); raw != "" {
		expires, err := http.ParseTime(raw)
		if err != nil || !expires.After(now) {
			return 0, false
		}
		return expires.Sub(now), true
	}

	return p.DefaultTTL, true
}

// coversVary reports whether every header the response varies on is part of
// the key.
func (p Policy) coversVary(vary []string) bool {
	for _, line := range vary {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "*" || !p.keyed(name) {
				return false
			}
		}
	}
	return true
}

func (p Policy) keyed(name string) bool {
	for _, h := range p.KeyHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

type cacheControl map[string]string

func parseCacheControl(lines []string) cacheControl {
	cc := make(cacheControl)
	for _, line := range lines {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			cc[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return cc
}

func (cc cacheControl) has(directive string) bool {
	_, ok := cc[directive]
	return ok
}
