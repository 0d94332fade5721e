package models

import "time"

const (
	RegistrationKindNew  = "NEW"
	RegistrationKindUsed = "USED"
)

const (
	RegistrationStatusActive           = "ACTIVE"
	RegistrationStatusClosedForTradeIn = "CLOSED_FOR_TRADE_IN"
)

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Coverage is the warranty window attached to a registration.
// Start is the purchase/sale date, End is Start plus DurationMonths
// calendar months.
type Coverage struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	DurationMonths int       `json:"duration_months"`
}

// Registration is one ownership-changing event for a serial. Serials are
// not unique across registrations: history is kept, only at most one
// registration per serial is ACTIVE at a time.
type Registration struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"`
	Serial   string   `json:"serial"`
	Model    string   `json:"model"`
	Customer Customer `json:"customer"`
	Location string   `json:"location,omitempty"`
	OrderRef string   `json:"order_ref,omitempty"`
	Coverage Coverage `json:"coverage"`
	Status   string   `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OpenRegistrationInput struct {
	Kind           string
	Serial         string
	Model          string
	Customer       Customer
	Location       string
	PurchaseDate   string
	WarrantyMonths int
	// OrderRef, when set, becomes the registration id so re-submitting the
	// same order overwrites in place instead of duplicating.
	OrderRef string
}

type TradeInPickupInput struct {
	Serial     string
	Model      string
	Note       string
	ReturnDate string
}

type UsedSaleInput struct {
	Serial         string
	Model          string
	Customer       Customer
	SaleDate       string
	WarrantyMonths int
	OrderRef       string
}
