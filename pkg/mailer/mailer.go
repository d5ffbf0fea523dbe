package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Mailer sends security alert emails
type Mailer struct {
	config Config
}

// New creates a new Mailer instance
func New(cfg Config) *Mailer {
	return &Mailer{config: cfg}
}

// DeviceAlert describes the device an alert email is about
type DeviceAlert struct {
	UserID     string
	DeviceID   string
	OSName     string
	Model      string
	DeviceType string
}

// SendDeviceAttached notifies about a new device joining the user's set
func (m *Mailer) SendDeviceAttached(toEmail string, alert DeviceAlert) error {
	subject := "DeviceGate - New device attached"
	body, err := m.renderAlertTemplate("A new device was attached to this account.", alert)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return m.send(toEmail, subject, body)
}

// SendDeviceDetached notifies about a device being removed from the set
func (m *Mailer) SendDeviceDetached(toEmail string, alert DeviceAlert) error {
	subject := "DeviceGate - Device detached"
	body, err := m.renderAlertTemplate("A device was detached from this account.", alert)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	return m.send(toEmail, subject, body)
}

// send delivers an email via SMTP
func (m *Mailer) send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", m.config.Host, m.config.Port)

	headers := map[string]string{
		"From":         fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From),
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=\"utf-8\"",
	}

	var msg bytes.Buffer
	for k, v := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	err := smtp.SendMail(addr, auth, m.config.From, []string{to}, msg.Bytes())
	if err != nil {
		log.Printf("❌ Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("📧 Email sent to %s: %s", to, subject)
	return nil
}

// renderAlertTemplate returns the HTML body for a device security alert
func (m *Mailer) renderAlertTemplate(headline string, alert DeviceAlert) (string, error) {
	tmpl := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#0f0f23;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:500px;margin:40px auto;background:linear-gradient(135deg,#1a1a2e 0%,#16213e 100%);border-radius:16px;overflow:hidden;border:1px solid rgba(99,102,241,0.2);">
        <!-- Header -->
        <div style="background:linear-gradient(135deg,#6366f1 0%,#8b5cf6 100%);padding:32px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:28px;font-weight:700;">🔐 DeviceGate</h1>
            <p style="color:rgba(255,255,255,0.85);margin:8px 0 0;font-size:14px;">Security Alert</p>
        </div>

        <!-- Body -->
        <div style="padding:32px;">
            <p style="color:#e2e8f0;font-size:16px;line-height:1.6;margin:0 0 24px;">
                {{.Headline}}
            </p>

            <div style="background:rgba(99,102,241,0.1);border:2px dashed rgba(99,102,241,0.4);border-radius:12px;padding:24px;margin:0 0 24px;">
                <p style="color:#a78bfa;font-size:14px;margin:0 0 8px;">User: <strong>{{.UserID}}</strong></p>
                <p style="color:#a78bfa;font-size:14px;margin:0 0 8px;">Device: <strong>{{.DeviceID}}</strong></p>
                {{if .OSName}}<p style="color:#a78bfa;font-size:14px;margin:0 0 8px;">OS: <strong>{{.OSName}}</strong></p>{{end}}
                {{if .Model}}<p style="color:#a78bfa;font-size:14px;margin:0 0 8px;">Model: <strong>{{.Model}}</strong></p>{{end}}
                {{if .DeviceType}}<p style="color:#a78bfa;font-size:14px;margin:0;">Type: <strong>{{.DeviceType}}</strong></p>{{end}}
            </div>

            <p style="color:#64748b;font-size:13px;line-height:1.5;margin:0;">
                If this wasn't expected, review the account's attached devices in your dashboard.
            </p>
        </div>

        <!-- Footer -->
        <div style="padding:16px 32px;border-top:1px solid rgba(99,102,241,0.1);text-align:center;">
            <p style="color:#475569;font-size:12px;margin:0;">© 2026 DeviceGate. All rights reserved.</p>
        </div>
    </div>
</body>
</html>`

	t, err := template.New("alert").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, map[string]interface{}{
		"Headline":   headline,
		"UserID":     alert.UserID,
		"DeviceID":   alert.DeviceID,
		"OSName":     alert.OSName,
		"Model":      alert.Model,
		"DeviceType": alert.DeviceType,
	})
	return buf.String(), err
}
