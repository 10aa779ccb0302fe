// Package locator parses RAMCloud-style service locator strings
// ("scheme:key=value,key=value,...") and derives the UDP address the
// failure detector listens on for a given server: try each transport
// scheme in preference order, take the first match's host/port, and add
// the fixed failure-detector port offset.
package locator

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// FailureDetectorPortOffset is added to a server's primary transport port
// to obtain the port its failure detector listens on.
const FailureDetectorPortOffset = 2111

// DefaultPreference is the scheme search order used when none is
// configured explicitly.
var DefaultPreference = []string{"infrc", "fast+udp", "tcp"}

// Locator is one parsed "scheme:key=value,..." locator.
type Locator struct {
	Scheme string
	Fields map[string]string
}

// Parse splits a single locator string into scheme and key/value fields.
// Multiple locators may be concatenated with ";" (as RAMCloud server
// entries do, listing every transport they accept connections on).
func Parse(s string) ([]Locator, error) {
	var out []Locator
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.IndexByte(part, ':')
		if idx < 0 {
			return nil, fmt.Errorf("locator: malformed locator %q (missing scheme)", part)
		}
		loc := Locator{
			Scheme: part[:idx],
			Fields: make(map[string]string),
		}
		for _, kv := range strings.Split(part[idx+1:], ",") {
			if kv == "" {
				continue
			}
			eq := strings.IndexByte(kv, '=')
			if eq < 0 {
				return nil, fmt.Errorf("locator: malformed field %q in %q", kv, part)
			}
			loc.Fields[kv[:eq]] = kv[eq+1:]
		}
		out = append(out, loc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("locator: empty locator string")
	}
	return out, nil
}

// HostPort extracts the "host"/"port" fields from a Locator.
func (l Locator) HostPort() (host string, port uint16, err error) {
	host = l.Fields["host"]
	if host == "" {
		return "", 0, fmt.Errorf("locator: scheme %q has no host field", l.Scheme)
	}
	portStr := l.Fields["port"]
	if portStr == "" {
		return "", 0, fmt.Errorf("locator: scheme %q has no port field", l.Scheme)
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("locator: bad port %q: %w", portStr, err)
	}
	return host, uint16(p), nil
}

// FailureDetectorAddr picks the first locator matching the preference
// order, extracts host+port, and adds FailureDetectorPortOffset to the
// port to produce the UDP address the peer's failure detector listens on.
func FailureDetectorAddr(serviceLocatorString string, preference []string) (*net.UDPAddr, error) {
	if len(preference) == 0 {
		preference = DefaultPreference
	}

	locs, err := Parse(serviceLocatorString)
	if err != nil {
		return nil, err
	}

	byScheme := make(map[string]Locator, len(locs))
	for _, l := range locs {
		if _, ok := byScheme[l.Scheme]; !ok {
			byScheme[l.Scheme] = l
		}
	}

	for _, scheme := range preference {
		l, ok := byScheme[scheme]
		if !ok {
			continue
		}
		host, port, err := l.HostPort()
		if err != nil {
			return nil, err
		}
		return &net.UDPAddr{
			IP:   net.ParseIP(host),
			Port: int(port) + FailureDetectorPortOffset,
		}, nil
	}

	return nil, fmt.Errorf("locator: could not determine failure-detector address for %q (no scheme in %v found)",
		serviceLocatorString, preference)
}
