package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus accepts the lower-case wire form.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo reports whether next directly follows s in the fulfilment flow.
// Cancellation is allowed from every non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusShipped
	case StatusShipped:
		return next == StatusDelivered
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch p {
	case PaymentPending:
		return next == PaymentCompleted || next == PaymentFailed
	case PaymentCompleted:
		return next == PaymentRefunded
	}
	return false
}

type PaymentMethod string

const (
	PaymentGateway        PaymentMethod = "gateway"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// ParsePaymentMethod also accepts the legacy client spellings ("paystack", "cash-on-delivery", ...).
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "gateway", "paystack":
		return PaymentGateway, true
	case "bank_transfer":
		return PaymentBankTransfer, true
	case "cash_on_delivery":
		return PaymentCashOnDelivery, true
	}
	return "", false
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidShipping   = errors.New("invalid shipping address")
)

type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	Phone      string `json:"phone"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

func (a ShippingAddress) Validate() error {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"address", a.Address}, {"city", a.City}, {"state", a.State}, {"phone", a.Phone},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidShipping, strings.Join(missing, ", "))
	}
	return nil
}

type OrderItem struct {
	ProductID       string `json:"productId"`
	FarmerID        string `json:"farmerId"`
	Quantity        int64  `json:"quantity"`
	PriceAtPurchase int64  `json:"priceAtPurchase"`
}

func (i OrderItem) Subtotal() int64 { return i.PriceAtPurchase * i.Quantity }

// PaymentDetails is the gateway-confirmed settlement data.
type PaymentDetails struct {
	Reference  string    `json:"reference"`
	Channel    string    `json:"channel"`
	PaidAt     time.Time `json:"paidAt"`
	AmountPaid int64     `json:"amountPaid"`
}

type Order struct {
	ID                   string          `json:"id"`
	BuyerID              string          `json:"buyerId"`
	Items                []OrderItem     `json:"items"`
	TotalPrice           int64           `json:"totalPrice"`
	Shipping             ShippingAddress `json:"shippingAddress"`
	PaymentMethod        PaymentMethod   `json:"paymentMethod"`
	Status               Status          `json:"status"`
	PaymentStatus        PaymentStatus   `json:"paymentStatus"`
	TransactionReference string          `json:"transactionReference,omitempty"`
	Payment              *PaymentDetails `json:"payment,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// ReferenceFor derives the gateway reference of an order.
func ReferenceFor(orderID string) string { return "order_" + orderID }

// OrderNumber is the short human-facing identifier.
func (o *Order) OrderNumber() string {
	id := strings.ReplaceAll(o.ID, "-", "")
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return "ORD-" + strings.ToUpper(id)
}

func (o *Order) TransitionTo(next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: status %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	return nil
}

// CompletePayment records a confirmed payment and moves a pending order into processing.
func (o *Order) CompletePayment(p PaymentDetails) error {
	if !o.PaymentStatus.CanTransitionTo(PaymentCompleted) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, o.PaymentStatus, PaymentCompleted)
	}
	if o.Status == StatusPending {
		o.Status = StatusProcessing
	}
	o.PaymentStatus = PaymentCompleted
	o.Payment = &p
	if p.Reference != "" {
		o.TransactionReference = p.Reference
	}
	return nil
}

// FailPayment marks the payment failed and cancels the order if it is still open.
func (o *Order) FailPayment() error {
	if !o.PaymentStatus.CanTransitionTo(PaymentFailed) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, o.PaymentStatus, PaymentFailed)
	}
	o.PaymentStatus = PaymentFailed
	if !o.Status.Terminal() {
		o.Status = StatusCancelled
	}
	return nil
}

func (o *Order) HasFarmer(farmerID string) bool {
	if farmerID == "" {
		return false
	}
	for _, it := range o.Items {
		if it.FarmerID == farmerID {
			return true
		}
	}
	return false
}

// FarmerIDs returns the distinct sellers of the order in item order.
func (o *Order) FarmerIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	var out []string
	for _, it := range o.Items {
		if _, ok := seen[it.FarmerID]; ok || it.FarmerID == "" {
			continue
		}
		seen[it.FarmerID] = struct{}{}
		out = append(out, it.FarmerID)
	}
	return out
}

// Clone returns a deep copy safe to hand across goroutines.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	return c
}
