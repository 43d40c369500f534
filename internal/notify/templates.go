package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"marketplace-service/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Template names, also used as metric labels
const (
	TemplateVerificationStatus = "verification_status"
	TemplateConfirmEmail       = "confirm_email"
	TemplateAccountCreated     = "account_created"
	TemplateOrderSubmitted     = "order_submitted"
	TemplateStockLow           = "stock_low"
	TemplateContact            = "contact"
	TemplateProposal           = "proposal"
)

var printer = message.NewPrinter(language.English)

// Money formats an amount as US dollars with digit grouping
func Money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return printer.Sprintf("$%.2f", f)
}

var templates = template.Must(template.New("email").Funcs(template.FuncMap{
	"money": Money,
	"title": func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	},
}).Parse(`
{{define "verification_status"}}
<p>Hello {{if .UserName}}{{.UserName}}{{else}}there{{end}},</p>
{{if eq .Status "approved"}}
<p>Good news: {{if .BusinessName}}{{.BusinessName}}{{else}}your business{{end}} has been approved. You can now place and receive orders.</p>
{{else if eq .Status "rejected"}}
<p>We were unable to verify {{if .BusinessName}}{{.BusinessName}}{{else}}your business{{end}}. Reply to this email if you believe this is a mistake.</p>
{{else}}
<p>Your account verification status is now <strong>{{title .Status}}</strong>.</p>
{{end}}
{{if .AppURL}}<p><a href="{{.AppURL}}">Open the marketplace</a></p>{{end}}
{{end}}

{{define "confirm_email"}}
<p>Welcome! Confirm your email address to continue setting up your account.</p>
<p><a href="{{.ConfirmURL}}">Confirm email</a></p>
{{end}}

{{define "account_created"}}
<p>A new {{.Role}} account is waiting for verification.</p>
<p>Email: {{.Email}}</p>
{{if .ReviewURL}}<p><a href="{{.ReviewURL}}">Review account</a></p>{{end}}
{{end}}

{{define "order_submitted"}}
<p>Order <strong>{{.OrderNumber}}</strong> was placed by {{.PlacedByEmail}}.</p>
<p>{{.ItemCount}} line item(s), total {{money .Total}}.</p>
{{if .OrderURL}}<p><a href="{{.OrderURL}}">View order</a></p>{{end}}
{{end}}

{{define "stock_low"}}
<p>Product {{.ProductName}} is {{if eq .Status "out_of_stock"}}out of stock{{else}}running low{{end}}: {{.StockQuantity}} case(s) on hand.</p>
{{end}}

{{define "contact"}}
<p>New contact form submission</p>
<ul>
<li>Name: {{.Name}}</li>
<li>Email: {{.Email}}</li>
{{if .Company}}<li>Company: {{.Company}}</li>{{end}}
{{if .Phone}}<li>Phone: {{.Phone}}</li>{{end}}
</ul>
<p>{{.Message}}</p>
{{end}}

{{define "proposal"}}
<p>New proposal request from {{.Company}}</p>
<ul>
<li>Name: {{.Name}}</li>
<li>Email: {{.Email}}</li>
{{if .Phone}}<li>Phone: {{.Phone}}</li>{{end}}
</ul>
<p>{{.Message}}</p>
{{end}}
`))

// VerificationStatusData feeds the verification status template
type VerificationStatusData struct {
	UserName     string
	BusinessName string
	Status       string
	AppURL       string
}

// ConfirmEmailData feeds the confirmation template
type ConfirmEmailData struct {
	ConfirmURL string
}

// AccountCreatedData feeds the admin signup notice
type AccountCreatedData struct {
	Email     string
	Role      string
	ReviewURL string
}

// OrderSubmittedData feeds the order notification template
type OrderSubmittedData struct {
	OrderNumber   string
	PlacedByEmail string
	ItemCount     int
	Total         decimal.Decimal
	OrderURL      string
}

// StockLowData feeds the low stock alert template
type StockLowData struct {
	ProductName   string
	StockQuantity int
	Status        string
}

// FormSubmission is a contact or proposal form
type FormSubmission struct {
	Name    string
	Email   string
	Company string
	Phone   string
	Message string
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func verificationSubject(status string) string {
	switch status {
	case models.VerificationApproved:
		return "Your account has been approved"
	case models.VerificationRejected:
		return "Update on your account verification"
	}
	return "Your account verification status: " + status
}

// VerificationStatusEmail renders the notification sent when an admin reviews an account
func VerificationStatusEmail(to string, data VerificationStatusData) (Message, error) {
	html, err := render(TemplateVerificationStatus, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplateVerificationStatus,
		To:       []string{to},
		Subject:  verificationSubject(data.Status),
		HTML:     html,
	}, nil
}

// ConfirmEmail renders the signup confirmation email
func ConfirmEmail(to string, data ConfirmEmailData) (Message, error) {
	html, err := render(TemplateConfirmEmail, data)
	if err != nil {
		return Message{}, err
	}
	return Message{Template: TemplateConfirmEmail, To: []string{to}, Subject: "Confirm your email", HTML: html}, nil
}

// AccountCreatedEmail renders the admin notice for a new signup
func AccountCreatedEmail(to string, data AccountCreatedData) (Message, error) {
	html, err := render(TemplateAccountCreated, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplateAccountCreated,
		To:       []string{to},
		Subject:  fmt.Sprintf("New %s signup: %s", data.Role, data.Email),
		HTML:     html,
	}, nil
}

// OrderSubmittedEmail renders the new order notification
func OrderSubmittedEmail(to []string, data OrderSubmittedData) (Message, error) {
	html, err := render(TemplateOrderSubmitted, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplateOrderSubmitted,
		To:       to,
		Subject:  fmt.Sprintf("New order %s (%s)", data.OrderNumber, Money(data.Total)),
		HTML:     html,
	}, nil
}

// StockLowEmail renders the low stock alert
func StockLowEmail(to string, data StockLowData) (Message, error) {
	html, err := render(TemplateStockLow, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Template: TemplateStockLow,
		To:       []string{to},
		Subject:  "Low stock: " + data.ProductName,
		HTML:     html,
	}, nil
}

// FormEmail renders a contact or proposal submission addressed to the admin
// inbox, with replies going back to the submitter
func FormEmail(tmpl, to string, form FormSubmission) (Message, error) {
	html, err := render(tmpl, form)
	if err != nil {
		return Message{}, err
	}

	subject := "Contact form: " + form.Name
	if tmpl == TemplateProposal {
		subject = "Proposal request: " + form.Company
	}
	return Message{
		Template: tmpl,
		To:       []string{to},
		ReplyTo:  form.Email,
		Subject:  subject,
		HTML:     html,
	}, nil
}
