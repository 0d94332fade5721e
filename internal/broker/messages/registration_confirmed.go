package messages

import "time"

// RegistrationConfirmed is published after a registration transaction has
// committed; the mailer consumes it and sends the confirmation email. It is
// never produced from inside the store transaction.
type RegistrationConfirmed struct {
	RegistrationID string    `json:"registration_id"`
	Kind           string    `json:"kind"`
	Serial         string    `json:"serial"`
	Model          string    `json:"model"`
	CustomerName   string    `json:"customer_name"`
	CustomerEmail  string    `json:"customer_email"`
	Location       string    `json:"location,omitempty"`
	OrderRef       string    `json:"order_ref,omitempty"`
	CoverageStart  time.Time `json:"coverage_start"`
	CoverageEnd    time.Time `json:"coverage_end"`
	RegisteredAt   time.Time `json:"registered_at"`
}
