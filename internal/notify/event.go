package notify

import (
	"fmt"
	"html"
	"time"

	"github.com/2beens/pressauth/internal/mail"
)

const (
	alertSubject    = "New login on the blog"
	unknownLocation = "unknown"
)

// LoginEvent is emitted after every successful admin login.
type LoginEvent struct {
	ClientIP  string
	Timestamp time.Time
}

func composeAlert(to string, event LoginEvent, location string) mail.Message {
	clientIP := event.ClientIP
	if clientIP == "" {
		clientIP = unknownLocation
	}

	text := fmt.Sprintf("New login from IP: %s, location: %s", clientIP, location)

	return mail.Message{
		To:      to,
		Subject: alertSubject,
		Text:    text,
		HTML: fmt.Sprintf(
			"<p>%s</p><p><small>%s</small></p>",
			html.EscapeString(text),
			event.Timestamp.UTC().Format(time.RFC1123),
		),
	}
}
