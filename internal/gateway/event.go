package gateway

// EventTransactionUpdated is the only event kind the reconciler acts on.
// Everything else the gateway sends is acknowledged and dropped.
const EventTransactionUpdated = "transaction.updated"

// Gateway-side transaction statuses as they arrive on the wire.
const (
	gatewayStatusApproved = "APPROVED"
	gatewayStatusDeclined = "DECLINED"
)

// Event is a webhook delivery from the payment gateway.
type Event struct {
	Event     string    `json:"event"`
	Timestamp int64     `json:"timestamp"`
	Data      EventData `json:"data"`
}

type EventData struct {
	Transaction *EventTransaction `json:"transaction"`
}

// EventTransaction is the gateway's view of a payment attempt.
type EventTransaction struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	AmountInCents     int64  `json:"amount_in_cents"`
	Currency          string `json:"currency"`
	PaymentMethodType string `json:"payment_method_type"`
}
