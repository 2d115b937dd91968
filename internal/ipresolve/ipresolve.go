// Package ipresolve implements the device-IP resolution chain: every
// alert must carry an IPv4 device key so raise/clear pairs from
// different sources can correlate on it.
package ipresolve

import (
	"context"
	"errors"
	"net"
	"regexp"

	"github.com/rs/dnscache"
)

// ErrMissingDeviceIP is returned when no resolution step produces an
// IPv4 address; callers drop the payload with a warning rather than
// propagating a hard failure.
var ErrMissingDeviceIP = errors.New("ipresolve: missing device_ip")

var ipv4Substring = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// Resolver tries, in order: a literal IPv4, an IPv4 substring, then
// DNS — first on the device IP field, then on the device name.
type Resolver struct {
	dns *dnscache.Resolver
}

// New builds a Resolver. dnscache.Resolver has no explicit capacity
// knob; boundedness comes from periodic Refresh() discarding entries
// unused since the last refresh.
func New() *Resolver {
	return &Resolver{dns: &dnscache.Resolver{}}
}

func isIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

func extractIPv4(s string) (string, bool) {
	m := ipv4Substring.FindString(s)
	if m == "" || !isIPv4(m) {
		return "", false
	}
	return m, true
}

// Resolve runs the resolution chain over a (deviceIP, deviceName)
// pair.
func (r *Resolver) Resolve(ctx context.Context, deviceIP, deviceName string) (string, error) {
	if deviceIP != "" {
		if isIPv4(deviceIP) {
			return deviceIP, nil
		}
		if ip, ok := extractIPv4(deviceIP); ok {
			return ip, nil
		}
		if ip, err := r.dnsResolve(ctx, deviceIP); err == nil {
			return ip, nil
		}
	}
	if deviceName != "" {
		if ip, ok := extractIPv4(deviceName); ok {
			return ip, nil
		}
		if ip, err := r.dnsResolve(ctx, deviceName); err == nil {
			return ip, nil
		}
	}
	return "", ErrMissingDeviceIP
}

func (r *Resolver) dnsResolve(ctx context.Context, host string) (string, error) {
	addrs, err := r.dns.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "", ErrMissingDeviceIP
	}
	for _, a := range addrs {
		if isIPv4(a) {
			return a, nil
		}
	}
	return "", ErrMissingDeviceIP
}

// Refresh evicts stale DNS entries, bounding cache growth for the
// lifetime of the process.
func (r *Resolver) Refresh() {
	r.dns.Refresh(true)
}
