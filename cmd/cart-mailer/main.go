package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/StewartGolf/CartBox/config"
	"github.com/StewartGolf/CartBox/internal/broker/kafka"
	"github.com/StewartGolf/CartBox/internal/mail"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	topic := cfg.Kafka.RegistrationConfirmedTopicName
	if topic == "" {
		topic = "registration.confirmed"
	}
	consumerGroup := cfg.CartBox.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "cart-mailer"
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	sender := mail.NewSender(mail.Config{
		Host:         cfg.Mail.Host,
		Port:         cfg.Mail.Port,
		Username:     cfg.Mail.Username,
		Password:     cfg.Mail.Password,
		From:         cfg.Mail.From,
		BaseImageURL: cfg.Mail.BaseImageURL,
	}, slog.Default())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("cart-mailer started", "topic", topic, "group", consumerGroup)
	if err := runCartMailer(ctx, consumer, sender); err != nil && err != context.Canceled {
		panic(err)
	}
}
