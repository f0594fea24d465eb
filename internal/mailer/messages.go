package mailer

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/elskow/memorial-auth/internal/config"
)

// Composer renders the text of each transactional email.
type Composer struct {
	publicURL   string
	frontendURL string
}

func NewComposer(cfg *config.ServerConfig) *Composer {
	return &Composer{
		publicURL:   strings.TrimRight(cfg.PublicURL, "/"),
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
	}
}

func (c *Composer) MagicLink(to, token string, ttl time.Duration) Message {
	link := c.publicURL + "/auth/callback?token=" + url.QueryEscape(token)
	return Message{
		To:      to,
		Subject: "Your sign-in link",
		Body: fmt.Sprintf("Use the link below to sign in. It expires in %s and works once.\n\n%s\n\n"+
			"If you did not ask to sign in, you can ignore this email.\n", humanize(ttl), link),
	}
}

func (c *Composer) PasswordReset(to, token string, ttl time.Duration) Message {
	link := c.frontendURL + "/reset-password?token=" + url.QueryEscape(token)
	return Message{
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Someone asked to reset the password for this address. "+
			"The link below expires in %s.\n\n%s\n\n"+
			"If this was not you, no action is needed.\n", humanize(ttl), link),
	}
}

func (c *Composer) Invitation(to, inviter, role, token string, ttl time.Duration) Message {
	link := c.frontendURL + "/invitations/" + url.PathEscape(token)
	return Message{
		To:      to,
		Subject: "You have been invited to collaborate on a memorial",
		Body: fmt.Sprintf("%s invited you to help as %s %s.\n\n%s\n\nThis invitation expires in %s.\n",
			inviter, article(role), role, link, humanize(ttl)),
	}
}

func humanize(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d.Round(time.Minute)/time.Minute), "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func article(word string) string {
	if word != "" && strings.ContainsRune("aeiou", rune(word[0])) {
		return "an"
	}
	return "a"
}
