package usecase

import "time"

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
)

// Published on Kafka for downstream consumers.
type OrderEventMsg struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	BuyerID       string    `json:"buyerId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	TotalPrice    int64     `json:"totalPrice"`
	OccurredAt    time.Time `json:"occurredAt"`
}

const (
	PaymentEventChargeSuccess = "charge.success"
	PaymentEventChargeFailed  = "charge.failed"
)

// Sent by the payment webhook; only the reference is trusted, state is re-read from the gateway.
type PaymentEventMsg struct {
	Event      string    `json:"event"`
	Reference  string    `json:"reference"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Carried by the notification sink (RabbitMQ or in-process).
type NotificationMsg struct {
	UserID   string            `json:"userId"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Type     string            `json:"type"`
	Link     string            `json:"link,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
