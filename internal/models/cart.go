package models

import (
	"encoding/json"
	"time"
)

const (
	CartStatusUnknown          = "UNKNOWN"
	CartStatusPickedUpTradeIn  = "PICKED_UP_TRADE_IN"
	CartStatusInUseByCustomer  = "IN_USE_BY_CUSTOMER"
)

const (
	PossessionDealer   = "DEALER"
	PossessionCustomer = "CUSTOMER"
)

const (
	CartEventTradeInPickup = "trade_in_pickup"
	CartEventUsedSale      = "used_sale"
)

// Possession says who currently holds the unit. RegistrationID is set only
// for CUSTOMER possession and must point at the ACTIVE registration for the
// same serial.
type Possession struct {
	Type           string `json:"type"`
	RegistrationID string `json:"registration_id,omitempty"`
}

// Cart is the single mutable current-state record per serial. It is created
// lazily on the first transition touching the serial and never deleted by
// normal operations.
type Cart struct {
	Serial     string     `json:"serial"`
	Model      string     `json:"model"`
	Status     string     `json:"status"`
	Possession Possession `json:"possession"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartEvent is an entry of the per-cart append-only sublog. Events are never
// mutated or deleted.
type CartEvent struct {
	ID         uint64          `json:"id"`
	Serial     string          `json:"serial"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TradeInPickupPayload is the payload of a trade_in_pickup cart event.
type TradeInPickupPayload struct {
	ReturnDate string `json:"return_date,omitempty"`
	Note       string `json:"note,omitempty"`
}

// UsedSalePayload is the payload of a used_sale cart event.
type UsedSalePayload struct {
	RegistrationID string    `json:"registration_id"`
	CustomerName   string    `json:"customer_name"`
	CoverageEnd    time.Time `json:"coverage_end"`
}

// LookupResult is the read-side join of the latest registration and the
// cart for a serial. ResidualWarrantyDays is nil when no coverage end date
// is known and may be negative when the warranty has expired.
type LookupResult struct {
	Registration         *Registration `json:"registration"`
	Cart                 *Cart         `json:"cart"`
	ResidualWarrantyDays *int          `json:"residual_warranty_days"`
}

// PurgeFilter matches a registration when any of its populated members
// matches (a union); unset members are ignored.
type PurgeFilter struct {
	IDs            []string
	OrderRefPrefix string
	EmailDomain    string
	CreatedBefore  string
}
