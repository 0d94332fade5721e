package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/pkg/errors"

	"github.com/StewartGolf/CartBox/internal/broker/messages"
)

// Cart model to confirmation image filename.
var modelImages = map[string]string{
	"X10 Argento":           "x10-argento.jpg",
	"X10 Bianco":            "x10-bianco.jpg",
	"Q Follow Black edition": "qfollow-black.jpg",
	"Q Follow Carbon":       "qfollow-carbon.jpg",
	"Q Range Follow Red":    "qrange-red.jpg",
	"Q Range Follow Blue":   "qrange-blue.jpg",
	"Q Range Follow Black":  "qrange-black.jpg",
	"VERTX":                 "vertx.jpg",
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`
<div style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: auto;">
  <h2 style="color: #007c4f;">Warranty registered successfully</h2>
  <p>Dear <strong>{{.CustomerName}}</strong>,</p>
  <p>Thank you for registering your <strong>{{.Model}}</strong> cart. Here are the details:</p>
  <ul style="line-height:1.6;">
    <li><strong>Model:</strong> {{.Model}}</li>
    <li><strong>Serial number:</strong> {{.Serial}}</li>
    <li><strong>Place of purchase:</strong> {{.Location}}</li>
    <li><strong>Coverage:</strong> {{.CoverageStart}} to {{.CoverageEnd}}</li>
    <li><strong>Registered email:</strong> {{.CustomerEmail}}</li>
    <li><strong>Registration date:</strong> {{.RegisteredAt}}</li>
  </ul>
  <p>For any questions write to <a href="mailto:{{.From}}">{{.From}}</a>.</p>
  {{if .ImageURL}}<img src="{{.ImageURL}}" alt="Stewart cart" style="max-width:100%;border-radius:8px;margin-top:20px;">{{end}}
</div>
`))

type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	BaseImageURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Sender renders and delivers registration confirmation emails over SMTP.
type Sender struct {
	cfg  Config
	send sendFunc
	log  *slog.Logger
}

func NewSender(cfg Config, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{cfg: cfg, send: smtp.SendMail, log: log}
}

func newSenderWithFunc(cfg Config, send sendFunc) *Sender {
	return &Sender{cfg: cfg, send: send, log: slog.Default()}
}

// SendConfirmation mails the customer named in the message. An unknown
// model is logged and skipped without error, matching the registration
// flow where mail failures never surface.
func (s *Sender) SendConfirmation(msg messages.RegistrationConfirmed) error {
	imageFile, ok := modelImages[msg.Model]
	if !ok {
		s.log.Warn("unrecognized cart model, skipping confirmation email",
			slog.String("model", msg.Model),
			slog.String("registration_id", msg.RegistrationID))
		return nil
	}
	if msg.CustomerEmail == "" {
		return errors.New("registration has no customer email")
	}

	var imageURL string
	if s.cfg.BaseImageURL != "" {
		imageURL = s.cfg.BaseImageURL + "/" + imageFile
	}

	var body bytes.Buffer
	err := confirmationTmpl.Execute(&body, map[string]string{
		"CustomerName":  msg.CustomerName,
		"CustomerEmail": msg.CustomerEmail,
		"Model":         msg.Model,
		"Serial":        msg.Serial,
		"Location":      msg.Location,
		"CoverageStart": msg.CoverageStart.Format("02/01/2006"),
		"CoverageEnd":   msg.CoverageEnd.Format("02/01/2006"),
		"RegisteredAt":  msg.RegisteredAt.Format("02/01/2006"),
		"From":          s.cfg.From,
		"ImageURL":      imageURL,
	})
	if err != nil {
		return errors.Wrap(err, "render confirmation email")
	}

	raw := s.buildMessage(msg.CustomerEmail, "Stewart Golf warranty registration confirmed", body.Bytes())

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(addr, auth, s.cfg.From, []string{msg.CustomerEmail}, raw); err != nil {
		return errors.Wrap(err, "send confirmation email")
	}

	s.log.Info("confirmation email sent",
		slog.String("to", msg.CustomerEmail),
		slog.String("registration_id", msg.RegistrationID))
	return nil
}

func (s *Sender) buildMessage(to, subject string, htmlBody []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: \"Stewart Golf\" <%s>\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.Write(htmlBody)
	return b.Bytes()
}
