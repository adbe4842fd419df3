package messages

import "time"

// FulfillmentStatusChanged публикуется после успешного двухфазного коммита
// (платформа подтвердила событие, локальный статус записан).
type FulfillmentStatusChanged struct {
	FulfillmentID uint64 `json:"fulfillment_id"`
	ShopDomain    string `json:"shop_domain"`
	OrderID       string `json:"order_id,omitempty"`

	TrackingNumber string `json:"tracking_number"`

	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`

	OccurredAt time.Time `json:"occurred_at"`
}
