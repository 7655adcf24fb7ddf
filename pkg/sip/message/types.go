package message

import (
	"strconv"
	"strings"
)

// Method is the kind of an inbound SIP request
type Method int

const (
	MethodUnknown Method = iota
	MethodInvite
	MethodAck
	MethodBye
	MethodCancel
	MethodOptions
)

// ParseMethod maps a request-line verb to a Method. Verbs are case-sensitive.
func ParseMethod(verb string) Method {
	switch verb {
	case "INVITE":
		return MethodInvite
	case "ACK":
		return MethodAck
	case "BYE":
		return MethodBye
	case "CANCEL":
		return MethodCancel
	case "OPTIONS":
		return MethodOptions
	default:
		return MethodUnknown
	}
}

// String returns the verb
func (m Method) String() string {
	switch m {
	case MethodInvite:
		return "INVITE"
	case MethodAck:
		return "ACK"
	case MethodBye:
		return "BYE"
	case MethodCancel:
		return "CANCEL"
	case MethodOptions:
		return "OPTIONS"
	default:
		return "UNKNOWN"
	}
}

// Request represents an inbound SIP request
type Request struct {
	Method     Method
	MethodName string // verb as received, kept for unknown methods
	RequestURI string
	Version    string
	Headers    *Headers
	Body       []byte
}

// Response represents an outbound SIP response
type Response struct {
	StatusCode   int
	ReasonPhrase string
	Headers      *Headers
	Body         []byte
}

// Headers keeps header values in arrival order. Names are matched exactly
// (case-sensitive), compact forms are expanded by the parser.
type Headers struct {
	headers map[string][]string
	order   []string
}

// NewHeaders creates a new Headers instance
func NewHeaders() *Headers {
	return &Headers{
		headers: make(map[string][]string),
		order:   make([]string, 0, 8),
	}
}

// compactForms maps RFC 3261 compact header names to their full names
var compactForms = map[string]string{
	"i": "Call-ID",
	"f": "From",
	"t": "To",
	"v": "Via",
	"m": "Contact",
	"l": "Content-Length",
	"c": "Content-Type",
}

// Get returns the first value of a header
func (h *Headers) Get(name string) string {
	if values := h.headers[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// GetAll returns all values of a header
func (h *Headers) GetAll(name string) []string {
	return h.headers[name]
}

// Has reports whether the header is present
func (h *Headers) Has(name string) bool {
	return len(h.headers[name]) > 0
}

// Set replaces all values of a header
func (h *Headers) Set(name, value string) {
	if _, exists := h.headers[name]; !exists {
		h.order = append(h.order, name)
	}
	h.headers[name] = []string{value}
}

// Add appends a header value
func (h *Headers) Add(name, value string) {
	if _, exists := h.headers[name]; !exists {
		h.order = append(h.order, name)
	}
	h.headers[name] = append(h.headers[name], value)
}

// Remove removes all values of a header
func (h *Headers) Remove(name string) {
	if _, exists := h.headers[name]; !exists {
		return
	}
	delete(h.headers, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// writeTo serializes headers in insertion order
func (h *Headers) writeTo(sb *strings.Builder) {
	for _, name := range h.order {
		for _, value := range h.headers[name] {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\r\n")
		}
	}
}

// CallID returns the Call-ID header
func (r *Request) CallID() string {
	return r.Headers.Get("Call-ID")
}

// From returns the From header
func (r *Request) From() string {
	return r.Headers.Get("From")
}

// To returns the To header
func (r *Request) To() string {
	return r.Headers.Get("To")
}

// FromTag returns the remote dialog tag
func (r *Request) FromTag() string {
	return ExtractTag(r.From())
}

// Bytes serializes the response for the wire
func (r *Response) Bytes() []byte {
	return []byte(r.String())
}

// String returns the wire representation
func (r *Response) String() string {
	var sb strings.Builder
	sb.WriteString("SIP/2.0 ")
	sb.WriteString(strconv.Itoa(r.StatusCode))
	sb.WriteString(" ")
	sb.WriteString(r.ReasonPhrase)
	sb.WriteString("\r\n")
	r.Headers.writeTo(&sb)
	sb.WriteString("\r\n")
	sb.Write(r.Body)
	return sb.String()
}
