package message

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildInvite(body string) string {
	return "INVITE sip:5000@10.0.0.56:5060 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.66:5060;branch=z9hG4bK776asdhds\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK-proxy\r\n" +
		"From: \"Alice\" <sip:1001@10.0.0.66>;tag=1928301774\r\n" +
		"To: <sip:5000@10.0.0.56>\r\n" +
		"Call-ID: a84b4c76e66710@10.0.0.66\r\n" +
		"CSeq: 314159 INVITE\r\n" +
		"Contact: <sip:1001@10.0.0.66:5060>\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"\r\n" + body
}

func TestParse_Invite(t *testing.T) {
	body := "c=IN IP4 10.0.0.5\r\nm=audio 20000 RTP/AVP 0\r\n"

	req, err := Parse([]byte(buildInvite(body)))
	require.NoError(t, err)

	assert.Equal(t, MethodInvite, req.Method)
	assert.Equal(t, "INVITE", req.MethodName)
	assert.Equal(t, "sip:5000@10.0.0.56:5060", req.RequestURI)
	assert.Equal(t, "SIP/2.0", req.Version)
	assert.Equal(t, "a84b4c76e66710@10.0.0.66", req.CallID())
	assert.Equal(t, "1928301774", req.FromTag())
	assert.Equal(t, "<sip:5000@10.0.0.56>", req.To())
	assert.Len(t, req.Headers.GetAll("Via"), 2)
	assert.Equal(t, body, string(req.Body))
}

func TestParse_Methods(t *testing.T) {
	tests := []struct {
		verb string
		want Method
	}{
		{"INVITE", MethodInvite},
		{"ACK", MethodAck},
		{"BYE", MethodBye},
		{"CANCEL", MethodCancel},
		{"OPTIONS", MethodOptions},
		{"REGISTER", MethodUnknown},
		{"invite", MethodUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			raw := tt.verb + " sip:bridge@10.0.0.56 SIP/2.0\r\nCall-ID: x1\r\nCSeq: 1 " + tt.verb + "\r\n\r\n"
			req, err := Parse([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Method)
			assert.Equal(t, tt.verb, req.MethodName)
		})
	}
}

func TestParse_HeaderNamesAreCaseSensitive(t *testing.T) {
	raw := "OPTIONS sip:bridge@10.0.0.56 SIP/2.0\r\n" +
		"Call-ID: abc\r\n" +
		"call-id: other\r\n" +
		"CSEQ: 1 OPTIONS\r\n\r\n"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "abc", req.CallID())
	assert.Equal(t, "", req.Headers.Get("CSeq"))
	assert.Equal(t, "1 OPTIONS", req.Headers.Get("CSEQ"))
}

func TestParse_CompactForms(t *testing.T) {
	raw := "BYE sip:bridge@10.0.0.56 SIP/2.0\r\n" +
		"v: SIP/2.0/UDP 10.0.0.66;branch=z9hG4bK1\r\n" +
		"f: <sip:1001@10.0.0.66>;tag=abc\r\n" +
		"t: <sip:5000@10.0.0.56>;tag=def\r\n" +
		"i: compact-call\r\n" +
		"CSeq: 2 BYE\r\n\r\n"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "compact-call", req.CallID())
	assert.Equal(t, "abc", req.FromTag())
	assert.Equal(t, "def", ExtractTag(req.To()))
	assert.Equal(t, "SIP/2.0/UDP 10.0.0.66;branch=z9hG4bK1", req.Headers.Get("Via"))
}

func TestParse_ContentLengthTruncatesBody(t *testing.T) {
	raw := "INVITE sip:bridge@10.0.0.56 SIP/2.0\r\nCall-ID: x\r\nContent-Length: 4\r\n\r\nbodyEXTRA"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "body", string(req.Body))
}

func TestParse_LFOnly(t *testing.T) {
	raw := "OPTIONS sip:bridge@10.0.0.56 SIP/2.0\nCall-ID: lf\nCSeq: 1 OPTIONS\n\n"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "lf", req.CallID())
}

func TestParse_FoldedHeader(t *testing.T) {
	raw := "OPTIONS sip:bridge@10.0.0.56 SIP/2.0\r\n" +
		"Call-ID: fold\r\n" +
		"Subject: first\r\n" +
		"  second\r\n\r\n"

	req, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "first second", req.Headers.Get("Subject"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"пустая датаграмма", "", ErrInvalidMessage},
		{"мусор", "hello world", ErrInvalidRequestLine},
		{"ответ вместо запроса", "SIP/2.0 200 OK\r\nCall-ID: x\r\n\r\n", ErrNotRequest},
		{"нет версии", "INVITE sip:x@y\r\nCall-ID: x\r\n\r\n", ErrInvalidRequestLine},
		{"не SIP версия", "INVITE sip:x@y HTTP/1.1\r\nCall-ID: x\r\n\r\n", ErrInvalidRequestLine},
		{"нет Call-ID", "OPTIONS sip:x@y SIP/2.0\r\nCSeq: 1 OPTIONS\r\n\r\n", ErrMissingHeader},
		{"слишком большая", "OPTIONS sip:x@y SIP/2.0\r\n" + strings.Repeat("X", maxMessageSize), ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
