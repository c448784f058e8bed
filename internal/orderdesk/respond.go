package orderdesk

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
)

// ProductInfo is the structured product context for inquiry replies.
type ProductInfo struct {
	ID           string
	Name         string
	Description  string
	Alternatives []string
}

// CompanyInfo is the signature block appended to every drafted reply.
type CompanyInfo struct {
	Name         string
	ContactEmail string
	Phone        string
	PolicyURL    string
}

// Drafter is the optional generation collaborator that polishes a
// templated reply into free text. It is advisory: when it fails, the
// plain template render is used instead.
type Drafter interface {
	Draft(ctx context.Context, prompt string) (string, error)
}

const responderTemplates = `
{{define "order_confirm" -}}
Thank you for your order! We're processing the following items:

{{range .Lines}}{{.}}
{{end}}
Order {{.OrderID}} status: {{.Status}}

{{template "signature" .Company}}
{{- end}}

{{define "out_of_stock" -}}
We're sorry, some items aren't available:

{{range .Lines}}{{.}}
{{end}}
{{- if .Alternatives}}
Alternatives we recommend:
{{range .Alternatives}}- {{.}}
{{end}}
{{- end}}
{{template "signature" .Company}}
{{- end}}

{{define "inquiry_response" -}}
Thank you for your question about {{.ProductName}}!

Here's what we can share:
{{.Answer}}

{{template "signature" .Company}}
{{- end}}

{{define "signature" -}}
Best regards,
{{.Name}}
{{.ContactEmail}}{{if .Phone}} | {{.Phone}}{{end}}
{{- if .PolicyURL}}
Returns policy: {{.PolicyURL}}
{{- end}}
{{- end}}
`

const draftPolishPrompt = `Rewrite the following customer service email so it reads naturally and professionally. Keep every fact, quantity, and status exactly as stated. Do not add promises or new information.

%s`

type ResponderOptions struct {
	Company CompanyInfo
	Drafter Drafter
	Logger  *zap.Logger
	Retrier *Retrier
	Policy  Policy
}

// Responder drafts reply emails for order confirmations, stock
// shortfalls, and product inquiries.
type Responder struct {
	company   CompanyInfo
	drafter   Drafter
	logger    *zap.Logger
	retrier   *Retrier
	policy    Policy
	templates *template.Template
}

func NewResponder(opts ResponderOptions) (*Responder, error) {
	if opts.Company.Name == "" {
		return nil, fmt.Errorf("%w: company name is required", ErrInvalidInput)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Retrier == nil {
		opts.Retrier = NewRetrier(opts.Logger)
	}
	templates, err := template.New("responder").Parse(responderTemplates)
	if err != nil {
		return nil, err
	}
	return &Responder{
		company:   opts.Company,
		drafter:   opts.Drafter,
		logger:    opts.Logger,
		retrier:   opts.Retrier,
		policy:    opts.Policy,
		templates: templates,
	}, nil
}

type orderConfirmView struct {
	OrderID string
	Status  OrderStatus
	Lines   []string
	Company CompanyInfo
}

type outOfStockView struct {
	OrderID      string
	Lines        []string
	Alternatives []string
	Company      CompanyInfo
}

type inquiryView struct {
	ProductName string
	Answer      string
	Company     CompanyInfo
}

// OrderConfirmation drafts the reply for a processed order, listing
// every line with its fulfillment outcome.
func (r *Responder) OrderConfirmation(ctx context.Context, result OrderResult) (string, error) {
	view := orderConfirmView{
		OrderID: result.OrderID,
		Status:  result.Status,
		Company: r.company,
	}
	for _, item := range result.Items {
		view.Lines = append(view.Lines, fmt.Sprintf("- %s: %d of %d (%s)",
			item.ProductID, item.Fulfilled, item.Requested, item.Status))
	}
	return r.render(ctx, "order_confirm", view)
}

// OutOfStock drafts the shortfall reply for an order with unavailable
// lines, optionally suggesting alternatives per product.
func (r *Responder) OutOfStock(ctx context.Context, result OrderResult, alternatives map[string][]string) (string, error) {
	view := outOfStockView{
		OrderID: result.OrderID,
		Company: r.company,
	}
	seen := map[string]struct{}{}
	for _, item := range result.Items {
		if item.Status == ItemAvailable {
			continue
		}
		view.Lines = append(view.Lines, fmt.Sprintf("- %s: requested %d, %d in stock",
			item.ProductID, item.Requested, item.Fulfilled))
		for _, alternative := range alternatives[item.ProductID] {
			if _, ok := seen[alternative]; ok {
				continue
			}
			seen[alternative] = struct{}{}
			view.Alternatives = append(view.Alternatives, alternative)
		}
	}
	return r.render(ctx, "out_of_stock", view)
}

// InquiryReply drafts the reply to a product inquiry.
func (r *Responder) InquiryReply(ctx context.Context, product ProductInfo, answer string) (string, error) {
	name := product.Name
	if name == "" {
		name = product.ID
	}
	view := inquiryView{
		ProductName: name,
		Answer:      strings.TrimSpace(answer),
		Company:     r.company,
	}
	return r.render(ctx, "inquiry_response", view)
}

func (r *Responder) render(ctx context.Context, name string, view any) (string, error) {
	var buf strings.Builder
	if err := r.templates.ExecuteTemplate(&buf, name, view); err != nil {
		return "", err
	}
	rendered := strings.TrimSpace(buf.String()) + "\n"
	if r.drafter == nil {
		return rendered, nil
	}

	var polished string
	err := r.retrier.Do(ctx, r.policy, "draft:"+name, func(ctx context.Context) error {
		var draftErr error
		polished, draftErr = r.drafter.Draft(ctx, fmt.Sprintf(draftPolishPrompt, rendered))
		return draftErr
	})
	if err != nil || strings.TrimSpace(polished) == "" {
		// Degrade to the plain template render rather than failing the
		// reply outright.
		r.logger.Warn("draft polish unavailable, using template render",
			zap.String("template", name),
			zap.Error(err))
		return rendered, nil
	}
	return strings.TrimSpace(polished) + "\n", nil
}
