package skills

import (
	"net"
	"net/url"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// checkSSRF rejects URLs resolving to loopback, link-local, or private
// address space (spec §4.4 "Openclaw install ... Rejects local/loopback/
// private URLs (SSRF)", invariant 7). Grounded on the calling convention of
// the teacher's checkSSRF in internal/tools/web_fetch.go, which is invoked
// before fetch and again on every redirect; that helper itself was not
// retrieved, so the resolution logic here is written fresh against package net.
func checkSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return moxxyerr.Validationf("skills: invalid URL %q: %v", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return moxxyerr.Validationf("skills: only http/https URLs are allowed")
	}
	host := parsed.Hostname()
	if host == "" {
		return moxxyerr.Validationf("skills: missing hostname in URL")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return moxxyerr.Dependencyf("skills: resolve %s: %v", host, err)
	}
	for _, ip := range ips {
		if isDisallowedTarget(ip) {
			return moxxyerr.Unauthorizedf("skills: %s resolves to disallowed address %s", host, ip)
		}
	}
	return nil
}

func isDisallowedTarget(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() || ip.IsPrivate() || ip.IsMulticast() {
		return true
	}
	// Cloud metadata endpoint, the classic SSRF pivot target.
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return true
	}
	return false
}
