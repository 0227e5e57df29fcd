package portal

import (
	"net"
	"net/url"
	"strings"
	"time"
)

// Portal is one of the fixed set of branded access surfaces. The two
// portals share one backend but must never share credentials.
type Portal string

const (
	// Teacher is the primary, administrative portal. Unrecognized request
	// signals resolve to it.
	Teacher Portal = "teacher"
	// Student is the restricted-audience portal.
	Student Portal = "student"
)

// All lists the configured portals in priority order.
func All() []Portal { return []Portal{Teacher, Student} }

func (p Portal) Valid() bool { return p == Teacher || p == Student }

func (p Portal) String() string { return string(p) }

// Parse maps a stored portal name back to a Portal, defaulting to the
// teacher portal for unknown values so legacy rows keep working.
func Parse(s string) Portal {
	if p := Portal(s); p.Valid() {
		return p
	}
	return Teacher
}

// CarrierNames are the transport-level names the caller must use for this
// portal's credentials. Prefixing by portal is the sole mechanism keeping
// the two portals' cookies apart on a shared domain.
type CarrierNames struct {
	Access  string
	Refresh string
}

func (p Portal) Carriers() CarrierNames {
	return CarrierNames{
		Access:  string(p) + "_access_token",
		Refresh: string(p) + "_refresh_token",
	}
}

// LegacyCarrier is the pre-portal unscoped cookie name. Recognized for
// migration purposes only; never authoritative once portal-scoped
// carriers exist.
const LegacyCarrier = "session_token"

const (
	AccessTokenLifetime  = 15 * time.Minute
	RefreshTokenLifetime = 7 * 24 * time.Hour
)

// Signals are the request attributes portal detection inspects. Callers
// pass whatever subset their transport provides; empty fields are skipped.
type Signals struct {
	Host    string
	Origin  string
	Referer string
}

// Detector resolves inbound requests to a portal against fixed host
// allow-lists. Hosts are matched on their hostname only, ignoring port
// and case.
type Detector struct {
	hosts map[string]Portal
}

// NewDetector builds a detector from per-portal host allow-lists.
func NewDetector(teacherHosts, studentHosts []string) *Detector {
	hosts := make(map[string]Portal, len(teacherHosts)+len(studentHosts))
	for _, h := range teacherHosts {
		if h = normalizeHost(h); h != "" {
			hosts[h] = Teacher
		}
	}
	for _, h := range studentHosts {
		if h = normalizeHost(h); h != "" {
			hosts[h] = Student
		}
	}
	return &Detector{hosts: hosts}
}

// Detect returns the portal for the given signals. Host wins over Origin,
// Origin over Referer; no match defaults to the teacher portal.
func (d *Detector) Detect(sig Signals) Portal {
	if p, ok := d.lookup(normalizeHost(sig.Host)); ok {
		return p
	}
	if p, ok := d.lookup(hostOfURL(sig.Origin)); ok {
		return p
	}
	if p, ok := d.lookup(hostOfURL(sig.Referer)); ok {
		return p
	}
	return Teacher
}

func (d *Detector) lookup(host string) (Portal, bool) {
	if host == "" {
		return Teacher, false
	}
	p, ok := d.hosts[host]
	return p, ok
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.TrimSuffix(h, ".")
}

func hostOfURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return normalizeHost(u.Host)
}
