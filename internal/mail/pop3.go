package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	stdmail "net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// fetchWindow bounds how many of the newest messages one poll retrieves.
const fetchWindow = 10

// POP3Backend polls a real mailbox over POP3. Sub-addressed signups
// (user+tag@host) all land in the same inbox, so messages are filtered by the
// session's tagged address.
type POP3Backend struct {
	cfg config.MailConfig
	log *slog.Logger
}

var _ Backend = (*POP3Backend)(nil)

// NewPOP3Backend builds a backend from mail configuration.
func NewPOP3Backend(cfg config.MailConfig, log *slog.Logger) *POP3Backend {
	if log == nil {
		log = slog.Default()
	}

	return &POP3Backend{cfg: cfg, log: log}
}

// Fetch opens a fresh POP3 session, retrieves the newest messages, and
// returns those addressed to the session mailbox. Each poll is one
// short-lived connection; POP3 servers lock the maildrop per session, so
// holding connections open would starve concurrent workers.
func (b *POP3Backend) Fetch(ctx context.Context, session domain.MailboxSession) ([]Message, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("pop3 dial: %w", err)
	}
	defer conn.close()

	if err := conn.auth(b.cfg.POP3User, b.cfg.POP3Password); err != nil {
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}

	count, err := conn.stat()
	if err != nil {
		return nil, fmt.Errorf("pop3 stat: %w", err)
	}

	first := count - fetchWindow + 1
	if first < 1 {
		first = 1
	}

	wanted := strings.ToLower(session.TaggedAddress())

	var messages []Message
	for n := count; n >= first; n-- {
		select {
		case <-ctx.Done():
			return messages, ctx.Err()
		default:
		}

		raw, err := conn.retr(n)
		if err != nil {
			b.log.Debug("pop3 retr failed", "message", n, "error", err)
			continue
		}

		msg, err := parseRFC822(raw)
		if err != nil {
			continue
		}

		if !addressedTo(msg, wanted) {
			continue
		}

		messages = append(messages, msg)
	}

	return messages, nil
}

func addressedTo(msg Message, wanted string) bool {
	return strings.Contains(strings.ToLower(msg.To), wanted)
}

func parseRFC822(raw string) (Message, error) {
	parsed, err := stdmail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return Message{}, err
	}

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		From:    parsed.Header.Get("From"),
		Subject: parsed.Header.Get("Subject"),
		Body:    string(body),
	}

	msg.To = parsed.Header.Get("To")
	if delivered := parsed.Header.Get("Delivered-To"); delivered != "" {
		msg.To += " " + delivered
	}

	if date, err := parsed.Header.Date(); err == nil {
		msg.Date = date
	}

	return msg, nil
}

// pop3Conn is a minimal POP3 client: USER/PASS, STAT, RETR, QUIT. That is
// the full protocol surface polling needs.
type pop3Conn struct {
	raw  net.Conn
	text *textproto.Conn
}

func (b *POP3Backend) dial(ctx context.Context) (*pop3Conn, error) {
	addr := net.JoinHostPort(b.cfg.POP3Host, strconv.Itoa(b.cfg.POP3Port))

	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var (
		raw net.Conn
		err error
	)
	if b.cfg.POP3UseTLS {
		raw, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: b.cfg.POP3Host})
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	_ = raw.SetDeadline(time.Now().Add(30 * time.Second))

	conn := &pop3Conn{raw: raw, text: textproto.NewConn(raw)}
	if _, err := conn.readStatus(); err != nil {
		conn.close()
		return nil, err
	}

	return conn, nil
}

func (c *pop3Conn) auth(user, password string) error {
	if err := c.cmd("USER %s", user); err != nil {
		return err
	}
	return c.cmd("PASS %s", password)
}

func (c *pop3Conn) stat() (int, error) {
	if err := c.text.PrintfLine("STAT"); err != nil {
		return 0, err
	}

	line, err := c.readStatus()
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed STAT response: %q", line)
	}

	return strconv.Atoi(fields[1])
}

func (c *pop3Conn) retr(n int) (string, error) {
	if err := c.text.PrintfLine("RETR %d", n); err != nil {
		return "", err
	}
	if _, err := c.readStatus(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(c.text.DotReader())
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (c *pop3Conn) cmd(format string, args ...any) error {
	if err := c.text.PrintfLine(format, args...); err != nil {
		return err
	}
	_, err := c.readStatus()
	return err
}

// readStatus consumes one +OK/-ERR status line and returns the remainder.
func (c *pop3Conn) readStatus() (string, error) {
	line, err := c.text.ReadLine()
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(line, "+OK") {
		return strings.TrimSpace(strings.TrimPrefix(line, "+OK")), nil
	}

	return "", fmt.Errorf("pop3 error: %s", strings.TrimSpace(strings.TrimPrefix(line, "-ERR")))
}

func (c *pop3Conn) close() {
	_ = c.text.PrintfLine("QUIT")
	_, _ = c.readStatus()
	_ = c.raw.Close()
}
