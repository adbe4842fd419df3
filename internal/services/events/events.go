package events

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/ShipSync/internal/apperr"
)

// События вебхуков агрегатора.
const (
	EventTrackingUpdated = "TRACKING_UPDATED"
	EventTrackingStopped = "TRACKING_STOPPED"
)

type OrderCreate struct {
	ExternalID string
	Name       string
}

type FulfillmentCreate struct {
	ExternalID      string
	OrderExternalID string
	TrackingNumber  string
	ShipmentStatus  string
}

type FulfillmentUpdate struct {
	ExternalID     string
	TrackingNumber string
}

type RefundCreate struct {
	OrderExternalID string
}

type TrackingWebhook struct {
	Event       string
	Number      string
	Status      string
	SubStatus   string
	LatestAt    *time.Time
	Description string
}

// decode разбирает сырые байты с UseNumber, чтобы числовые id платформы
// не теряли точность при нормализации в строку.
func decode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(apperr.ErrValidation, err.Error())
	}
	return nil
}

func ParseOrderCreate(raw []byte) (OrderCreate, error) {
	var p struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	}
	if err := decode(raw, &p); err != nil {
		return OrderCreate{}, err
	}
	if p.ID.String() == "" {
		return OrderCreate{}, apperr.Validation("order create: missing id")
	}
	return OrderCreate{ExternalID: p.ID.String(), Name: p.Name}, nil
}

type fulfillmentPayload struct {
	ID              json.Number `json:"id"`
	OrderID         json.Number `json:"order_id"`
	TrackingNumber  string      `json:"tracking_number"`
	TrackingNumbers []string    `json:"tracking_numbers"`
	ShipmentStatus  string      `json:"shipment_status"`
}

func (p fulfillmentPayload) trackingNumber() string {
	if p.TrackingNumber != "" {
		return p.TrackingNumber
	}
	if len(p.TrackingNumbers) > 0 {
		return p.TrackingNumbers[0]
	}
	return ""
}

func ParseFulfillmentCreate(raw []byte) (FulfillmentCreate, error) {
	var p fulfillmentPayload
	if err := decode(raw, &p); err != nil {
		return FulfillmentCreate{}, err
	}
	if p.ID.String() == "" {
		return FulfillmentCreate{}, apperr.Validation("fulfillment create: missing id")
	}
	if p.OrderID.String() == "" {
		return FulfillmentCreate{}, apperr.Validation("fulfillment create: missing order_id")
	}
	return FulfillmentCreate{
		ExternalID:      p.ID.String(),
		OrderExternalID: p.OrderID.String(),
		TrackingNumber:  p.trackingNumber(),
		ShipmentStatus:  p.ShipmentStatus,
	}, nil
}

func ParseFulfillmentUpdate(raw []byte) (FulfillmentUpdate, error) {
	var p fulfillmentPayload
	if err := decode(raw, &p); err != nil {
		return FulfillmentUpdate{}, err
	}
	if p.ID.String() == "" {
		return FulfillmentUpdate{}, apperr.Validation("fulfillment update: missing id")
	}
	// order_id в update-нотификации не приходит, fulfillment ищем по id.
	return FulfillmentUpdate{
		ExternalID:     p.ID.String(),
		TrackingNumber: p.trackingNumber(),
	}, nil
}

func ParseRefundCreate(raw []byte) (RefundCreate, error) {
	var p struct {
		OrderID json.Number `json:"order_id"`
	}
	if err := decode(raw, &p); err != nil {
		return RefundCreate{}, err
	}
	if p.OrderID.String() == "" {
		return RefundCreate{}, apperr.Validation("refund create: missing order_id")
	}
	return RefundCreate{OrderExternalID: p.OrderID.String()}, nil
}

func ParseTrackingWebhook(raw []byte) (TrackingWebhook, error) {
	var p struct {
		Event string `json:"event"`
		Data  struct {
			Number    string `json:"number"`
			TrackInfo struct {
				LatestStatus struct {
					Status    string `json:"status"`
					SubStatus string `json:"sub_status"`
				} `json:"latest_status"`
				LatestEvent struct {
					TimeUTC     string `json:"time_utc"`
					Description string `json:"description"`
				} `json:"latest_event"`
			} `json:"track_info"`
		} `json:"data"`
	}
	if err := decode(raw, &p); err != nil {
		return TrackingWebhook{}, err
	}
	if p.Event != EventTrackingUpdated && p.Event != EventTrackingStopped {
		return TrackingWebhook{}, apperr.Validation("tracking webhook: unknown event " + p.Event)
	}
	if p.Data.Number == "" {
		return TrackingWebhook{}, apperr.Validation("tracking webhook: missing number")
	}
	out := TrackingWebhook{
		Event:       p.Event,
		Number:      p.Data.Number,
		Status:      p.Data.TrackInfo.LatestStatus.Status,
		SubStatus:   p.Data.TrackInfo.LatestStatus.SubStatus,
		Description: p.Data.TrackInfo.LatestEvent.Description,
	}
	if ts := p.Data.TrackInfo.LatestEvent.TimeUTC; ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return TrackingWebhook{}, apperr.Validation("tracking webhook: bad time_utc " + ts)
		}
		out.LatestAt = &t
	}
	return out, nil
}
