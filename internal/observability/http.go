package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta identifies the caller of a request or socket handshake.
type ClientMeta struct {
	DeviceID  string
	IP        string
	RequestID string
}

// MetaFromRequest extracts caller identity from the usual proxy headers.
func MetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
		RequestID: r.Header.Get("X-Request-Id"),
	}
}

func clientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
