// Package notify sends transactional email to donors: a thank-you receipt
// after a successful payment and a heads-up when a recurring charge fails.
//
// Rendering is separated from delivery so templates can be tested without an
// SMTP server. Delivery goes through gomail; failures are returned to the
// caller, which logs and moves on — a lost email never fails a webhook.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	gomail "gopkg.in/gomail.v2"

	"github.com/tbourn/go-donation-backend/internal/domain"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html.tmpl"))

// Receipt holds everything the thank-you email needs.
type Receipt struct {
	To            string
	Name          string
	Amount        float64
	Currency      string
	Frequency     domain.Frequency
	ReceiptURL    string
	InvoicePDFURL string
}

// Failure holds everything the failed-charge email needs.
type Failure struct {
	To               string
	Name             string
	Amount           float64
	Currency         string
	Frequency        domain.Frequency
	HostedInvoiceURL string
}

// Notifier is the email surface the services depend on.
type Notifier interface {
	SendReceipt(ctx context.Context, r Receipt) error
	SendFailure(ctx context.Context, f Failure) error
}

// FormatAmount renders a donation amount with its currency symbol, e.g.
// "$25.00" for 25 usd. Unknown currency codes fall back to "25.00 XXX".
//
// The symbol and the number are joined by hand: the x/text formatter inserts
// a spacing character between them, which reads oddly in receipt emails.
func FormatAmount(amount float64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return fmt.Sprintf("%.2f %s", amount, strings.ToUpper(code))
	}
	p := message.NewPrinter(language.English)
	symbol := p.Sprintf("%v", currency.NarrowSymbol(unit))
	return symbol + p.Sprintf("%.2f", amount)
}

type receiptData struct {
	Name       string
	Amount     string
	Frequency  string
	Recurring  bool
	ReceiptURL string
}

type failureData struct {
	Name             string
	Amount           string
	Frequency        string
	HostedInvoiceURL string
}

// RenderReceipt produces the HTML body of the thank-you email.
func RenderReceipt(r Receipt) (string, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "receipt.html.tmpl", receiptData{
		Name:       r.Name,
		Amount:     FormatAmount(r.Amount, r.Currency),
		Frequency:  string(r.Frequency),
		Recurring:  r.Frequency != domain.FrequencyOneTime,
		ReceiptURL: r.ReceiptURL,
	})
	return buf.String(), err
}

// RenderFailure produces the HTML body of the failed-charge email.
func RenderFailure(f Failure) (string, error) {
	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "failure.html.tmpl", failureData{
		Name:             f.Name,
		Amount:           FormatAmount(f.Amount, f.Currency),
		Frequency:        string(f.Frequency),
		HostedInvoiceURL: f.HostedInvoiceURL,
	})
	return buf.String(), err
}

// ReceiptSubject is the subject line of the thank-you email.
func ReceiptSubject(f domain.Frequency) string {
	return fmt.Sprintf("Thank you for your %s donation", f)
}

// FailureSubject is the subject line of the failed-charge email.
func FailureSubject(f domain.Frequency) string {
	return fmt.Sprintf("Issue with your %s donation", f)
}

// SMTPMailer delivers email over SMTP via gomail.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
	client *http.Client
}

// NewSMTPMailer builds a mailer for the given SMTP endpoint. from is used as
// the From header on every message.
func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// SendReceipt sends the thank-you email. When the receipt carries an invoice
// PDF URL the document is fetched and attached; a failed fetch downgrades to
// sending without the attachment rather than dropping the email.
func (m *SMTPMailer) SendReceipt(ctx context.Context, r Receipt) error {
	body, err := RenderReceipt(r)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", r.To)
	msg.SetHeader("Subject", ReceiptSubject(r.Frequency))
	msg.SetBody("text/html", body)

	if r.InvoicePDFURL != "" {
		if pdf, err := m.fetch(ctx, r.InvoicePDFURL); err == nil {
			msg.Attach("invoice.pdf", gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(pdf)
				return err
			}))
		}
	}

	return m.dialer.DialAndSend(msg)
}

// SendFailure sends the failed-charge email.
func (m *SMTPMailer) SendFailure(ctx context.Context, f Failure) error {
	body, err := RenderFailure(f)
	if err != nil {
		return fmt.Errorf("render failure: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", f.To)
	msg.SetHeader("Subject", FailureSubject(f.Frequency))
	msg.SetBody("text/html", body)

	return m.dialer.DialAndSend(msg)
}

func (m *SMTPMailer) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
