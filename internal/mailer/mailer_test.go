package mailer

import (
	"context"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elskow/memorial-auth/internal/config"
)

func fakeSMTP(t *testing.T) (string, int, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 fake ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			switch strings.ToUpper(strings.SplitN(line, " ", 2)[0]) {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250-fake")
				_ = tp.PrintfLine("250 8BITMIME")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				lines, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				received <- strings.Join(lines, "\n")
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, p, received
}

func TestSMTPSender_Send(t *testing.T) {
	host, port, received := fakeSMTP(t)
	sender := NewSMTPSender(&config.EmailConfig{
		SMTPHost: host,
		SMTPPort: port,
		From:     "no-reply@memorial.example",
		Timeout:  2 * time.Second,
	}, zaptest.NewLogger(t))

	err := sender.Send(context.Background(), Message{
		To:      "jane@example.com",
		Subject: "Hello",
		Body:    "line one\nline two",
	})
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Contains(t, data, "To: jane@example.com")
		assert.Contains(t, data, "Subject: Hello")
		assert.Contains(t, data, "line one\nline two")
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestSMTPSender_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	sender := NewSMTPSender(&config.EmailConfig{
		SMTPHost: "127.0.0.1",
		SMTPPort: port,
		From:     "no-reply@memorial.example",
		Timeout:  time.Second,
	}, zaptest.NewLogger(t))

	err = sender.Send(context.Background(), Message{To: "jane@example.com", Subject: "x", Body: "y"})
	assert.Error(t, err)
}

func TestComposer(t *testing.T) {
	c := NewComposer(&config.ServerConfig{
		PublicURL:   "https://api.memorial.example/",
		FrontendURL: "https://memorial.example",
	})

	magic := c.MagicLink("jane@example.com", "tok-1", 15*time.Minute)
	assert.Equal(t, "jane@example.com", magic.To)
	assert.Contains(t, magic.Body, "https://api.memorial.example/auth/callback?token=tok-1")
	assert.Contains(t, magic.Body, "15 minutes")

	reset := c.PasswordReset("jane@example.com", "tok-2", time.Hour)
	assert.Contains(t, reset.Body, "https://memorial.example/reset-password?token=tok-2")
	assert.Contains(t, reset.Body, "1 hour")

	invite := c.Invitation("guest@example.com", "owner@example.com", "editor", "tok-3", 7*24*time.Hour)
	assert.Contains(t, invite.Body, "https://memorial.example/invitations/tok-3")
	assert.Contains(t, invite.Body, "as an editor")
	assert.Contains(t, invite.Body, "7 days")
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(zaptest.NewLogger(t)).Send(context.Background(), Message{To: "a@b.com"}))
}
