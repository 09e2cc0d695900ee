package domain

import "time"

type NotificationType string

const (
	NotifyNewOrder            NotificationType = "new-order"
	NotifyOrderCancel         NotificationType = "order-cancel"
	NotifyPaymentReceived     NotificationType = "payment-received"
	NotifyOrderUpdate         NotificationType = "order-update"
	NotifyPaymentConfirmation NotificationType = "payment-confirmation"
	NotifyShipmentUpdate      NotificationType = "shipment-update"
)

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Type      NotificationType  `json:"type"`
	Link      string            `json:"link,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}
