package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/StewartGolf/CartBox/internal/broker/messages"
)

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type confirmationSender interface {
	SendConfirmation(msg messages.RegistrationConfirmed) error
}

// runCartMailer drains the confirmation topic and mails customers. Send
// failures are logged and the message is committed anyway: registration
// already succeeded and a retry storm helps nobody.
func runCartMailer(ctx context.Context, consumer kafkaConsumer, sender confirmationSender) error {
	return consumer.Consume(ctx, func(_ []byte, value []byte) error {
		var m messages.RegistrationConfirmed
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Error("malformed confirmation message, skipping", "err", err)
			return nil
		}
		if err := sender.SendConfirmation(m); err != nil {
			slog.Error("confirmation email failed",
				"err", err,
				"registration_id", m.RegistrationID,
				"to", m.CustomerEmail)
		}
		return nil
	})
}
