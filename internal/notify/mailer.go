// Package notify sends customer emails for orders.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

const sendGuardTTL = 7 * 24 * time.Hour

// MailLine is an order line as printed in mails.
type MailLine struct {
	Name      string        `json:"name"`
	Unit      string        `json:"unit"`
	Quantity  int           `json:"quantity"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Total     pricing.Money `json:"total"`
}

// OrderMail carries everything the confirmation mail shows.
type OrderMail struct {
	OrderNumber     string         `json:"orderNumber"`
	Email           string         `json:"email"`
	CustomerName    string         `json:"customerName"`
	Lines           []MailLine     `json:"lines"`
	Totals          pricing.Totals `json:"totals"`
	DiscountCode    string         `json:"discountCode,omitempty"`
	PaymentMethod   string         `json:"paymentMethod"`
	DeliveryMethod  string         `json:"deliveryMethod"`
	ConfirmationURL string         `json:"confirmationUrl,omitempty"`
}

// Mailer renders and sends order mails.
type Mailer struct {
	Mail     common.EmailSender
	Enabled  bool
	ShopName string
	Guard    SendGuard
	Logger   zerolog.Logger
}

// SendOrderConfirmation mails the order summary once per order number.
func (m Mailer) SendOrderConfirmation(ctx context.Context, o OrderMail) error {
	if !m.Enabled || m.Mail == nil {
		return nil
	}
	if strings.TrimSpace(o.Email) == "" {
		return errors.New("notify: order mail without recipient")
	}
	var buf bytes.Buffer
	err := orderConfirmationTmpl.Execute(&buf, map[string]any{
		"ShopName":         m.ShopName,
		"OrderNumber":      o.OrderNumber,
		"CustomerName":     o.CustomerName,
		"Lines":            o.Lines,
		"Subtotal":         money(o.Totals.Subtotal),
		"Discount":         nonZero(o.Totals.DiscountAmount),
		"DiscountCode":     o.DiscountCode,
		"Shipping":         money(o.Totals.ShippingGross),
		"Tax":              money(o.Totals.TaxAmount),
		"VATRate":          o.Totals.VATRate.String(),
		"PricesIncludeTax": o.Totals.PricesIncludeTax,
		"Total":            money(o.Totals.Total),
		"PaymentMethod":    paymentLabel(o.PaymentMethod),
		"DeliveryMethod":   o.DeliveryMethod,
		"ConfirmationURL":  o.ConfirmationURL,
	})
	if err != nil {
		return fmt.Errorf("notify: render confirmation: %w", err)
	}
	subject := fmt.Sprintf("Ihre Bestellung %s", o.OrderNumber)
	return m.sendOnce(ctx, "confirmation:"+o.OrderNumber, o.Email, subject, buf.String())
}

func (m Mailer) sendOnce(ctx context.Context, key, to, subject, html string) error {
	if m.Guard != nil {
		ok, err := m.Guard.Acquire(ctx, key, sendGuardTTL)
		if err != nil {
			return fmt.Errorf("notify: send guard: %w", err)
		}
		if !ok {
			m.Logger.Debug().Str("mail_key", key).Msg("mail_duplicate_suppressed")
			return nil
		}
	}
	if err := m.Mail.Send(to, subject, html); err != nil {
		if m.Guard != nil {
			_ = m.Guard.Release(ctx, key)
		}
		return fmt.Errorf("notify: send %s: %w", key, err)
	}
	return nil
}

// StatusNotifier mails the customer when an order changes status. It is
// registered on the events bus.
type StatusNotifier struct {
	Mailer Mailer
}

type statusPayload struct {
	OrderNumber   string `json:"orderNumber"`
	CustomerEmail string `json:"customerEmail"`
	To            string `json:"to"`
}

// Notify implements events.Notifier.
func (n StatusNotifier) Notify(ctx context.Context, event events.Event) error {
	m := n.Mailer
	if !m.Enabled || m.Mail == nil {
		return nil
	}
	subject, message, ok := statusText(event.Topic)
	if !ok {
		return nil
	}
	var p statusPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("notify: decode %s payload: %w", event.Topic, err)
	}
	if p.CustomerEmail == "" || p.OrderNumber == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := statusChangeTmpl.Execute(&buf, map[string]string{
		"Message":     message,
		"OrderNumber": p.OrderNumber,
		"ShopName":    m.ShopName,
	}); err != nil {
		return fmt.Errorf("notify: render status mail: %w", err)
	}
	return m.sendOnce(ctx, event.Topic+":"+p.OrderNumber, p.CustomerEmail, subject+" "+p.OrderNumber, buf.String())
}

func statusText(topic string) (subject, message string, ok bool) {
	switch topic {
	case events.TopicOrderConfirmed:
		return "Bestellung bestätigt", "Ihre Bestellung wurde bestätigt und wird für den Versand vorbereitet.", true
	case events.TopicOrderShipped:
		return "Bestellung unterwegs", "Ihr Brennholz ist unterwegs zu Ihnen.", true
	case events.TopicOrderDelivered:
		return "Bestellung zugestellt", "Ihre Bestellung wurde zugestellt. Viel Freude mit Ihrem Holz!", true
	case events.TopicOrderCancelled:
		return "Bestellung storniert", "Ihre Bestellung wurde storniert.", true
	}
	return "", "", false
}

func paymentLabel(method string) string {
	switch method {
	case "prepayment":
		return "Vorkasse"
	case "invoice":
		return "Rechnung"
	case "cash_on_delivery":
		return "Nachnahme"
	case "paypal":
		return "PayPal"
	}
	return method
}

func money(m pricing.Money) string {
	return strings.Replace(m.StringFixed(2), ".", ",", 1)
}

func nonZero(m pricing.Money) string {
	if m.IsZero() {
		return ""
	}
	return money(m)
}
