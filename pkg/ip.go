package pkg

import (
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

var (
	localDockerIpRegex = regexp.MustCompile(`^172\.\d{1,3}\.0\.1$`)
)

// IPIsLocal reports whether the address belongs to local development (loopback, or the
// docker bridge gateway when running in a container).
func IPIsLocal(ipAddr string) bool {
	ip := net.ParseIP(ipAddr)
	if ip != nil && ip.IsLoopback() {
		return true
	}
	return localDockerIpRegex.MatchString(ipAddr)
}

// ReadUserIP returns the client IP of the request. Proxy headers (nginx sets X-Real-Ip) are
// read only when trustProxyHeaders is set, otherwise any client could pick its own IP.
func ReadUserIP(r *http.Request, trustProxyHeaders bool) (string, error) {
	var ipAddr string
	if trustProxyHeaders {
		ipAddr = r.Header.Get("X-Real-Ip")
		if ipAddr == "" {
			// first entry is the original client
			forwardedFor := r.Header.Get("X-Forwarded-For")
			ipAddr = strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		}
	}
	if ipAddr == "" {
		ipAddr = r.RemoteAddr
	}

	if host, _, err := net.SplitHostPort(ipAddr); err == nil {
		ipAddr = host
	}

	if IPIsLocal(ipAddr) {
		return "localhost", nil
	}

	if ip := net.ParseIP(ipAddr); ip == nil {
		return "", fmt.Errorf("ip addr %s is invalid", ipAddr)
	}

	return ipAddr, nil
}
