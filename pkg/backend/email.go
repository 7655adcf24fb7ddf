package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

const (
	emailCacheTTL  = time.Minute
	emailCleanup   = 5 * time.Minute
	maxEmailBody   = 1000
	maxBodyPreview = 200
)

var htmlTag = regexp.MustCompile(`<[^<]+?>`)

// EmailConfig параметры почтового ящика IMAP
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	Limit    int
	// Insecure подключение без TLS
	Insecure bool
	Timeout  time.Duration
}

// Email непрочитанное письмо
type Email struct {
	Subject   string    `json:"subject"`
	Sender    string    `json:"sender"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body"`
	MessageID string    `json:"message_id,omitempty"`
}

// MailSource источник непрочитанных писем, новые первыми
type MailSource interface {
	Unread(ctx context.Context) ([]Email, error)
}

// IMAPClient читает непрочитанные письма, не снимая флаг \Seen
type IMAPClient struct {
	cfg    EmailConfig
	cache  *cache.Cache
	logger logrus.FieldLogger
}

// NewIMAPClient создает почтовый клиент
func NewIMAPClient(cfg EmailConfig, logger logrus.FieldLogger) *IMAPClient {
	if cfg.Host == "" {
		cfg.Host = "imap.gmail.com"
	}
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPClient{
		cfg:    cfg,
		cache:  cache.New(emailCacheTTL, emailCleanup),
		logger: logger.WithField("component", "imap"),
	}
}

// Unread последние Limit непрочитанных писем
func (c *IMAPClient) Unread(ctx context.Context) ([]Email, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return nil, fmt.Errorf("email credentials not configured: %w", pipeline.ErrUnavailable)
	}
	if cached, found := c.cache.Get(c.cfg.Mailbox); found {
		return cached.([]Email), nil
	}

	start := time.Now()
	emails, err := c.fetchUnread(ctx)
	observe("email", start, err)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(c.cfg.Mailbox, emails)
	return emails, nil
}

func (c *IMAPClient) dial() (*imapclient.Client, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: c.cfg.Timeout}}
	if c.cfg.Insecure {
		return imapclient.DialInsecure(addr, opts)
	}
	return imapclient.DialTLS(addr, opts)
}

func (c *IMAPClient) fetchUnread(ctx context.Context) ([]Email, error) {
	client, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer client.Close()
	// команды IMAP не принимают контекст, отмена закрывает соединение
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select(c.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", c.cfg.Mailbox, err)
	}

	found, err := client.Search(&imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search unseen: %w", err)
	}
	seqNums := found.AllSeqNums()
	if len(seqNums) > c.cfg.Limit {
		seqNums = seqNums[len(seqNums)-c.cfg.Limit:]
	}

	emails := []Email{}
	if len(seqNums) > 0 {
		emails, err = c.fetchMessages(client, seqNums)
		if err != nil {
			return nil, err
		}
	}

	if err := client.Logout().Wait(); err != nil {
		c.logger.WithError(err).Debug("Ошибка logout IMAP")
	}
	c.logger.WithField("count", len(emails)).Info("Получены непрочитанные письма")
	return emails, nil
}

func (c *IMAPClient) fetchMessages(client *imapclient.Client, seqNums []uint32) ([]Email, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	msgs, err := client.Fetch(imap.SeqSetNum(seqNums...), &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	// новые первыми
	slices.SortFunc(msgs, func(a, b *imapclient.FetchMessageBuffer) int {
		return int(b.SeqNum) - int(a.SeqNum)
	})

	emails := make([]Email, 0, len(msgs))
	for _, msg := range msgs {
		email, err := ParseEmail(msg.FindBodySection(section))
		if err != nil {
			c.logger.WithError(err).WithField("seq", msg.SeqNum).Warn("Не удалось разобрать письмо")
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// ParseEmail разбирает письмо RFC 5322. Тело берется из text/plain, иначе из
// text/html без тегов, и обрезается до 1000 символов.
func ParseEmail(raw []byte) (Email, error) {
	if len(raw) == 0 {
		return Email{}, errors.New("empty message")
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Email{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	email := Email{Subject: "No Subject", Sender: "Unknown"}
	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		email.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.Sender = from[0].Address
		if from[0].Name != "" {
			email.Sender = fmt.Sprintf("%s <%s>", from[0].Name, from[0].Address)
		}
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		email.Date = date
	} else {
		email.Date = time.Now().UTC()
	}
	email.MessageID, _ = mr.Header.MessageID()

	body, err := messageBody(mr)
	if err != nil {
		return Email{}, err
	}
	if runes := []rune(body); len(runes) > maxEmailBody {
		body = string(runes[:maxEmailBody]) + "...\n[Email truncated for brevity]"
	}
	email.Body = strings.TrimSpace(body)
	return email, nil
}

func messageBody(mr *mail.Reader) (string, error) {
	var html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("read part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		switch contentType {
		case "text/plain":
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read body: %w", err)
			}
			return string(data), nil
		case "text/html":
			if html != "" {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				return "", fmt.Errorf("read body: %w", err)
			}
			html = htmlTag.ReplaceAllString(string(data), "")
		}
	}
	return html, nil
}

// EmailEnricher добавляет непрочитанные письма, если абонент спрашивает о почте
type EmailEnricher struct {
	source   MailSource
	location *time.Location
	logger   logrus.FieldLogger
}

// NewEmailEnricher создает источник почты. Время получения выводится в location.
func NewEmailEnricher(source MailSource, location *time.Location, logger logrus.FieldLogger) *EmailEnricher {
	if location == nil {
		location = time.UTC
	}
	return &EmailEnricher{source: source, location: location, logger: logger}
}

func (e *EmailEnricher) Name() string { return "email" }

func (e *EmailEnricher) Enrich(ctx context.Context, userText string) (pipeline.Contribution, error) {
	if !pipeline.IsEmailQuery(userText) {
		return pipeline.Contribution{}, nil
	}

	emails, err := e.source.Unread(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Не удалось получить письма")
		return pipeline.Contribution{}, nil
	}
	if len(emails) == 0 {
		return pipeline.Contribution{Note: "You have no unread emails."}, nil
	}

	items := make([]pipeline.Item, 0, len(emails))
	for i := range emails {
		items = append(items, pipeline.Item{
			Kind:  pipeline.KindEmail,
			Title: "Unread email",
			Text:  FormatEmail(emails[i], e.location),
			Data:  &emails[i],
		})
	}
	return pipeline.Contribution{Items: items}, nil
}

// FormatEmail строки письма для системного промпта
func FormatEmail(m Email, loc *time.Location) string {
	preview := "[No content]"
	if m.Body != "" {
		preview = truncateText(m.Body, maxBodyPreview)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n- From: %s", m.Sender)
	fmt.Fprintf(&sb, "\n- Subject: %s", m.Subject)
	fmt.Fprintf(&sb, "\n- Received: %s", m.Date.In(loc).Format("Monday, January 02 at 03:04 PM"))
	fmt.Fprintf(&sb, "\n- Preview: %s", preview)
	return sb.String()
}
