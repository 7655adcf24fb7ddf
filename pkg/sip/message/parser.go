package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Maximum sizes for security
	maxMessageSize = 65536 // 64KB
	maxHeaders     = 100   // Maximum number of headers
)

// Parse parses an inbound SIP request. Header extraction is line-oriented:
// each line is split on the first colon and the name is kept as sent.
// Responses and datagrams without a request line or Call-ID are rejected.
func Parse(data []byte) (*Request, error) {
	if len(data) == 0 {
		return nil, ErrInvalidMessage
	}
	if len(data) > maxMessageSize {
		return nil, ErrMessageTooLarge
	}

	headerData, body := splitHeadersAndBody(data)

	lines := strings.Split(strings.ReplaceAll(string(headerData), "\r\n", "\n"), "\n")
	firstLine := strings.TrimSpace(lines[0])
	if firstLine == "" {
		return nil, ErrInvalidMessage
	}
	if strings.HasPrefix(firstLine, "SIP/") {
		return nil, ErrNotRequest
	}

	req, err := parseRequestLine(firstLine)
	if err != nil {
		return nil, err
	}

	req.Headers, err = parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}

	if req.CallID() == "" {
		return nil, fmt.Errorf("%w: Call-ID", ErrMissingHeader)
	}

	// Content-Length ограничивает тело, если датаграмма длиннее
	if cl := req.Headers.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(cl)); err == nil && n >= 0 && n < len(body) {
			body = body[:n]
		}
	}
	req.Body = body

	return req, nil
}

// splitHeadersAndBody finds the blank line separating headers from body
func splitHeadersAndBody(data []byte) ([]byte, []byte) {
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		return data[:idx], data[idx+4:]
	}
	// Try with just \n\n for compatibility
	if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		return data[:idx], data[idx+2:]
	}
	return data, nil
}

// parseRequestLine parses "METHOD Request-URI SIP/2.0"
func parseRequestLine(line string) (*Request, error) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRequestLine, line)
	}
	if !strings.HasPrefix(parts[2], "SIP/") {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidRequestLine, parts[2])
	}

	return &Request{
		Method:     ParseMethod(parts[0]),
		MethodName: parts[0],
		RequestURI: parts[1],
		Version:    parts[2],
	}, nil
}

// parseHeaders parses "Name: value" lines. Lines without a colon are skipped,
// continuation lines (leading whitespace) are folded into the previous value.
func parseHeaders(lines []string) (*Headers, error) {
	headers := NewHeaders()
	var lastName string
	count := 0

	for _, line := range lines {
		if line == "" {
			continue
		}

		if (line[0] == ' ' || line[0] == '\t') && lastName != "" {
			values := headers.headers[lastName]
			values[len(values)-1] += " " + strings.TrimSpace(line)
			continue
		}

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}

		count++
		if count > maxHeaders {
			return nil, fmt.Errorf("%w: more than %d headers", ErrInvalidMessage, maxHeaders)
		}

		name := strings.TrimSpace(line[:colon])
		if full, ok := compactForms[name]; ok {
			name = full
		}
		value := strings.TrimSpace(line[colon+1:])

		headers.Add(name, value)
		lastName = name
	}

	return headers, nil
}
