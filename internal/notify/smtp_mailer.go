package notify

import (
	"fmt"
	"net/smtp"
)

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	sender   string
}

func NewSMTPMailer(host, port, username, password, sender string) *SMTPMailer {
	if sender == "" {
		sender = "no-reply@localhost"
	}
	return &SMTPMailer{host: host, port: port, username: username, password: password, sender: sender}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	var auth smtp.Auth
	if m.username != "" && m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
	return smtp.SendMail(m.host+":"+m.port, auth, m.sender, []string{to}, msg)
}
