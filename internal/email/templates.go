package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Template names, also used as the metrics label
const (
	TemplateVerification  = "verification"
	TemplatePasswordReset = "password_reset"
	TemplateTicketReply   = "ticket_reply"
	TemplateAPIKeyExpiry  = "api_key_expiry"
	TemplateContact       = "contact"
)

// Templates renders the transactional emails. Links are built from the public site URL.
type Templates struct {
	html     *htmltemplate.Template
	text     *texttemplate.Template
	siteName string
	siteURL  string
}

// NewTemplates parses the embedded templates
func NewTemplates(siteName, siteURL string) (*Templates, error) {
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html email templates: %w", err)
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text email templates: %w", err)
	}
	return &Templates{
		html:     html,
		text:     text,
		siteName: siteName,
		siteURL:  strings.TrimSuffix(siteURL, "/"),
	}, nil
}

type templateData struct {
	SiteName  string
	SiteURL   string
	Name      string
	Email     string
	Link      string
	Subject   string
	Body      string
	KeyName   string
	MaskedKey string
	ExpiresAt string
	DaysLeft  int
}

func (t *Templates) render(name, to, subject string, data templateData) (Message, error) {
	data.SiteName = t.siteName
	data.SiteURL = t.siteURL
	if data.Name == "" {
		data.Name = "there"
	}

	var text bytes.Buffer
	if err := t.text.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}

	msg := Message{To: to, Subject: subject, Text: text.String(), Template: name}
	if t.html.Lookup(name+".html") != nil {
		var html bytes.Buffer
		if err := t.html.ExecuteTemplate(&html, name+".html", data); err != nil {
			return Message{}, fmt.Errorf("render %s html: %w", name, err)
		}
		msg.HTML = html.String()
	}
	return msg, nil
}

func (t *Templates) link(path string, query url.Values) string {
	if len(query) == 0 {
		return t.siteURL + path
	}
	return t.siteURL + path + "?" + query.Encode()
}

// Verification renders the email verification message carrying a 24 h token
func (t *Templates) Verification(to, name, token string) (Message, error) {
	return t.render(TemplateVerification, to, "Verify your email address", templateData{
		Name: name,
		Link: t.link("/verify-email", url.Values{"token": {token}}),
	})
}

// PasswordReset renders the password reset message carrying a 1 h token
func (t *Templates) PasswordReset(to, name, token string) (Message, error) {
	return t.render(TemplatePasswordReset, to, "Reset your password", templateData{
		Name: name,
		Link: t.link("/reset-password", url.Values{"token": {token}}),
	})
}

// TicketReply renders the notification sent to a ticket owner when staff reply
func (t *Templates) TicketReply(to, name, ticketID, subject, body string) (Message, error) {
	return t.render(TemplateTicketReply, to, "Re: "+subject, templateData{
		Name:    name,
		Subject: subject,
		Body:    body,
		Link:    t.link("/dashboard/tickets/"+url.PathEscape(ticketID), nil),
	})
}

// APIKeyExpiry renders the warning sent before a key expires
func (t *Templates) APIKeyExpiry(to, name, keyName, maskedKey string, expiresAt, now time.Time) (Message, error) {
	daysLeft := int(expiresAt.Sub(now).Hours()/24) + 1
	if daysLeft < 0 {
		daysLeft = 0
	}
	subject := fmt.Sprintf("Your API key '%s' expires in %d day(s)", keyName, daysLeft)
	return t.render(TemplateAPIKeyExpiry, to, subject, templateData{
		Name:      name,
		KeyName:   keyName,
		MaskedKey: maskedKey,
		ExpiresAt: expiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
		DaysLeft:  daysLeft,
		Link:      t.link("/dashboard/api-keys", nil),
	})
}

// Contact renders a contact form submission for the agency inbox. Replies go to the sender.
func (t *Templates) Contact(inbox, fromName, fromEmail, message string) (Message, error) {
	msg, err := t.render(TemplateContact, inbox, "Contact form: "+fromName, templateData{
		Name:  fromName,
		Email: fromEmail,
		Body:  message,
	})
	if err != nil {
		return Message{}, err
	}
	msg.ReplyTo = fromEmail
	return msg, nil
}
