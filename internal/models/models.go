package models

import "time"

// Статусы платформы (shipment_status в вебхуках и событиях fulfillment).
const (
	PlatformStatusLabelPrinted      = "label_printed"
	PlatformStatusLabelPurchased    = "label_purchased"
	PlatformStatusConfirmed         = "confirmed"
	PlatformStatusInTransit         = "in_transit"
	PlatformStatusOutForDelivery    = "out_for_delivery"
	PlatformStatusAttemptedDelivery = "attempted_delivery"
	PlatformStatusReadyForPickup    = "ready_for_pickup"
	PlatformStatusDelivered         = "delivered"
	PlatformStatusFailure           = "failure"
)

// Главные статусы агрегатора.
const (
	AggStatusNotFound           = "NotFound"
	AggStatusInfoReceived       = "InfoReceived"
	AggStatusInTransit          = "InTransit"
	AggStatusExpired            = "Expired"
	AggStatusAvailableForPickup = "AvailableForPickup"
	AggStatusOutForDelivery     = "OutForDelivery"
	AggStatusDeliveryFailure    = "DeliveryFailure"
	AggStatusDelivered          = "Delivered"
	AggStatusException          = "Exception"
)

// Процессный статус трекинга: ждём ли ещё апдейтов от агрегатора.
const (
	ProcessStatusRunning = "RUNNING"
	ProcessStatusStopped = "STOPPED"
)

type Shop struct {
	ID                 uint64
	Domain             string
	APISecret          string
	ClientID           string
	ClientSecret       string
	Active             bool
	WebhooksRegistered bool
	AccessToken        *string
	TokenExpiresAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Order struct {
	ID         uint64
	ShopID     uint64
	ExternalID string
	Name       string
	CreatedAt  time.Time
}

// Tracking — подписка на один трек-номер у агрегатора.
// Не зависит от того, сколько fulfillment'ов на него ссылаются.
type Tracking struct {
	ID            uint64
	Number        string
	ProcessStatus string
	LastStatus    string
	LastSubStatus string
	LastEventAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Fulfillment struct {
	ID                     uint64
	ShopID                 uint64
	ExternalID             string
	OrderID                uint64
	TrackingNumber         string
	TrackingID             *uint64
	StatusCurrent          *string
	StatusCurrentUpdatedAt *time.Time
	DeliveredAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// StatusMapping — строка таблицы соответствий. SubStatus == nil означает
// fallback-строку для данного главного статуса.
type StatusMapping struct {
	MainStatus     string
	SubStatus      *string
	PlatformStatus string
}

type FulfillmentCreateInput struct {
	ShopID         uint64
	ExternalID     string
	OrderID        uint64
	TrackingNumber string
	TrackingID     *uint64
	StatusCurrent  *string
}
