package backend

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

const (
	imapUser     = "alice@example.com"
	imapPassword = "app-password"
)

func rawEmail(from, subject, date, body string) string {
	return "From: " + from + "\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date + "\r\n" +
		"Message-Id: <" + strings.ReplaceAll(strings.ToLower(subject), " ", "-") + "@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" + body
}

type mailboxMessage struct {
	raw  string
	seen bool
}

func imapTestServer(t *testing.T, messages ...mailboxMessage) int {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(imapUser, imapPassword)
	require.NoError(t, user.Create("INBOX", nil))
	for _, m := range messages {
		opts := &imap.AppendOptions{}
		if m.seen {
			opts.Flags = []imap.Flag{imap.FlagSeen}
		}
		_, err := user.Append("INBOX", bytes.NewReader([]byte(m.raw)), opts)
		require.NoError(t, err)
	}
	mem.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	return ln.Addr().(*net.TCPAddr).Port
}

func newTestIMAP(port int) *IMAPClient {
	return NewIMAPClient(EmailConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: imapUser,
		Password: imapPassword,
		Limit:    2,
		Insecure: true,
		Timeout:  2 * time.Second,
	}, quietLogger())
}

func TestIMAPClient_Unread(t *testing.T) {
	port := imapTestServer(t,
		mailboxMessage{raw: rawEmail("Bob <bob@example.com>", "Old news", "Mon, 12 Oct 2026 09:00:00 +0000", "seen already"), seen: true},
		mailboxMessage{raw: rawEmail("Carol <carol@example.com>", "Lunch", "Tue, 13 Oct 2026 10:00:00 +0000", "Lunch at noon?")},
		mailboxMessage{raw: rawEmail("dave@example.com", "Invoice", "Wed, 14 Oct 2026 11:00:00 +0000", "Invoice attached")},
		mailboxMessage{raw: rawEmail("Erin <erin@example.com>", "Standup moved", "Thu, 15 Oct 2026 08:30:00 +0000", "Standup is at 10 today")},
	)

	emails, err := newTestIMAP(port).Unread(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 2)

	assert.Equal(t, "Standup moved", emails[0].Subject)
	assert.Equal(t, "Erin <erin@example.com>", emails[0].Sender)
	assert.Equal(t, "Standup is at 10 today", emails[0].Body)
	assert.Equal(t, "standup-moved@example.com", emails[0].MessageID)
	assert.True(t, emails[0].Date.Equal(time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)))

	assert.Equal(t, "Invoice", emails[1].Subject)
	assert.Equal(t, "dave@example.com", emails[1].Sender)

	// письма остаются непрочитанными
	again, err := newTestIMAP(port).Unread(context.Background())
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Equal(t, "Standup moved", again[0].Subject)
}

func TestIMAPClient_NoUnread(t *testing.T) {
	port := imapTestServer(t,
		mailboxMessage{raw: rawEmail("bob@example.com", "Read", "Mon, 12 Oct 2026 09:00:00 +0000", "done"), seen: true},
	)

	emails, err := newTestIMAP(port).Unread(context.Background())
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestIMAPClient_Errors(t *testing.T) {
	port := imapTestServer(t)

	client := newTestIMAP(port)
	client.cfg.Password = "wrong"
	_, err := client.Unread(context.Background())
	assert.ErrorContains(t, err, "imap login")

	client = newTestIMAP(port)
	client.cfg.Mailbox = "Archive"
	_, err = client.Unread(context.Background())
	assert.ErrorContains(t, err, "imap select Archive")

	_, err = NewIMAPClient(EmailConfig{}, quietLogger()).Unread(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrUnavailable)
}

func TestParseEmail(t *testing.T) {
	multipart := "From: =?UTF-8?Q?Jos=C3=A9?= <jose@example.com>\r\n" +
		"Subject: =?UTF-8?Q?Caf=C3=A9_meeting?=\r\n" +
		"Date: Thu, 15 Oct 2026 08:30:00 -0700\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=sep\r\n" +
		"\r\n" +
		"--sep\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Hello <b>there</b></p>\r\n" +
		"--sep--\r\n"

	email, err := ParseEmail([]byte(multipart))
	require.NoError(t, err)
	assert.Equal(t, "Café meeting", email.Subject)
	assert.Equal(t, "José <jose@example.com>", email.Sender)
	assert.Equal(t, "Hello there", email.Body)

	long := strings.Repeat("a", 1500)
	email, err = ParseEmail([]byte("Subject: \r\nContent-Type: text/plain\r\n\r\n" + long))
	require.NoError(t, err)
	assert.Equal(t, "No Subject", email.Subject)
	assert.Equal(t, "Unknown", email.Sender)
	assert.Equal(t, strings.Repeat("a", 1000)+"...\n[Email truncated for brevity]", email.Body)
	assert.False(t, email.Date.IsZero())

	_, err = ParseEmail(nil)
	assert.Error(t, err)
}

type fakeMailSource struct {
	emails []Email
	err    error
	calls  int
}

func (f *fakeMailSource) Unread(context.Context) ([]Email, error) {
	f.calls++
	return f.emails, f.err
}

func TestEmailEnricher(t *testing.T) {
	source := &fakeMailSource{emails: []Email{{
		Subject: "Standup moved",
		Sender:  "Erin <erin@example.com>",
		Date:    time.Date(2026, 10, 15, 15, 30, 0, 0, time.UTC),
		Body:    "Standup is at 10 today",
	}}}
	pdt := time.FixedZone("PDT", -7*60*60)
	enricher := NewEmailEnricher(source, pdt, quietLogger())
	ctx := context.Background()

	c, err := enricher.Enrich(ctx, "what's the weather")
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Zero(t, source.calls)

	c, err = enricher.Enrich(ctx, "Do I have any new email?")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, pipeline.KindEmail, c.Items[0].Kind)
	assert.Equal(t, "Unread email", c.Items[0].Title)
	assert.Equal(t,
		"\n- From: Erin <erin@example.com>"+
			"\n- Subject: Standup moved"+
			"\n- Received: Thursday, October 15 at 08:30 AM"+
			"\n- Preview: Standup is at 10 today",
		c.Items[0].Text)
	assert.Equal(t, "Standup moved", c.Items[0].Data.(*Email).Subject)

	source.emails = nil
	c, err = enricher.Enrich(ctx, "check my inbox")
	require.NoError(t, err)
	assert.Equal(t, "You have no unread emails.", c.Note)

	source.err = errors.New("connection refused")
	c, err = enricher.Enrich(ctx, "any mail?")
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestFormatEmail_EmptyBody(t *testing.T) {
	text := FormatEmail(Email{Subject: "Ping", Sender: "x@example.com", Date: calendarNow}, time.UTC)
	assert.Contains(t, text, "\n- Preview: [No content]")
}
