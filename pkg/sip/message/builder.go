package message

import (
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// ResponseBuilder builds a response to an inbound request
type ResponseBuilder struct {
	statusCode   int
	reasonPhrase string
	headers      *Headers
	body         []byte
}

// NewResponse creates a response builder from a request.
// Via, From, To, Call-ID and CSeq are copied verbatim.
func NewResponse(request *Request, statusCode int, reasonPhrase string) *ResponseBuilder {
	headers := NewHeaders()

	// Copy Via headers (in same order)
	for _, via := range request.Headers.GetAll("Via") {
		headers.Add("Via", via)
	}
	for _, name := range []string{"From", "To", "Call-ID", "CSeq"} {
		if value := request.Headers.Get(name); value != "" {
			headers.Set(name, value)
		}
	}

	if reasonPhrase == "" {
		reasonPhrase = DefaultReasonPhrase(statusCode)
	}

	return &ResponseBuilder{
		statusCode:   statusCode,
		reasonPhrase: reasonPhrase,
		headers:      headers,
	}
}

// ToTag adds a tag to the To header unless it already carries one
func (b *ResponseBuilder) ToTag(tag string) *ResponseBuilder {
	to := b.headers.Get("To")
	if to != "" && tag != "" && ExtractTag(to) == "" {
		b.headers.Set("To", to+";tag="+tag)
	}
	return b
}

// Contact sets the Contact header
func (b *ResponseBuilder) Contact(uri string) *ResponseBuilder {
	b.headers.Set("Contact", "<"+uri+">")
	return b
}

// Header adds a custom header
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	if value != "" {
		b.headers.Add(name, value)
	}
	return b
}

// Body sets the response body
func (b *ResponseBuilder) Body(contentType string, body []byte) *ResponseBuilder {
	b.body = body
	if len(body) > 0 {
		b.headers.Set("Content-Type", contentType)
	} else {
		b.headers.Remove("Content-Type")
	}
	return b
}

// Build creates the final Response. Content-Length is always last.
func (b *ResponseBuilder) Build() *Response {
	b.headers.Remove("Content-Length")
	b.headers.Set("Content-Length", strconv.Itoa(len(b.body)))

	return &Response{
		StatusCode:   b.statusCode,
		ReasonPhrase: b.reasonPhrase,
		Headers:      b.headers,
		Body:         b.body,
	}
}

// ExtractTag extracts the tag parameter from a header value
func ExtractTag(headerValue string) string {
	if idx := strings.Index(headerValue, ";tag="); idx >= 0 {
		tagStart := idx + 5
		tagEnd := strings.IndexAny(headerValue[tagStart:], ";> ")
		if tagEnd < 0 {
			return headerValue[tagStart:]
		}
		return headerValue[tagStart : tagStart+tagEnd]
	}
	return ""
}

// GenerateTag generates a local tag for the To header
func GenerateTag() string {
	return sip.RandString(8)
}

// ContactURI builds "sip:user@host:port"
func ContactURI(user, host string, port int) string {
	uri := sip.Uri{Scheme: "sip", User: user, Host: host, Port: port}
	return uri.String()
}

// DefaultReasonPhrase returns the RFC 3261 reason phrase for a status code
func DefaultReasonPhrase(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 486:
		return "Busy Here"
	case 500:
		return "Server Internal Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
