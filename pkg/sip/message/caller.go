package message

import (
	"net"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// UnknownCaller is returned when the From header carries no usable identity
const UnknownCaller = "Unknown"

// CallerID extracts a human readable caller identity from a From header:
// the display name if present, otherwise the user part of the URI.
func CallerID(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return UnknownCaller
	}

	// "Display Name" <sip:user@host>
	if start := strings.IndexByte(from, '"'); start >= 0 {
		if end := strings.IndexByte(from[start+1:], '"'); end > 0 {
			return from[start+1 : start+1+end]
		}
	}

	uriPart := from
	if lt := strings.IndexByte(from, '<'); lt >= 0 {
		// Display Name <sip:user@host>
		if name := strings.TrimSpace(from[:lt]); name != "" {
			return name
		}
		uriPart = from[lt+1:]
		if gt := strings.IndexByte(uriPart, '>'); gt >= 0 {
			uriPart = uriPart[:gt]
		}
	} else if semi := strings.IndexByte(from, ';'); semi >= 0 {
		uriPart = from[:semi]
	}

	var uri sip.Uri
	if err := sip.ParseUri(uriPart, &uri); err == nil && uri.User != "" {
		return uri.User
	}

	// Запасной вариант для URI, которые sipgo не принимает
	if idx := strings.Index(uriPart, "sip:"); idx >= 0 {
		user := uriPart[idx+4:]
		if end := strings.IndexAny(user, "@;>"); end > 0 {
			return user[:end]
		}
	}

	return UnknownCaller
}

// RequestHost returns the IPv4 host of a Request-URI, or "" when the host
// is a domain name or the URI cannot be parsed.
func RequestHost(requestURI string) string {
	var uri sip.Uri
	if err := sip.ParseUri(requestURI, &uri); err != nil {
		return ""
	}
	if ip := net.ParseIP(uri.Host); ip != nil && ip.To4() != nil {
		return ip.String()
	}
	return ""
}
