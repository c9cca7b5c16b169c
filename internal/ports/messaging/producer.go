package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Producer struct {
	sender          MessageSender
	payrollQueueURL string
	notifyQueueURL  string
}

func NewProducer(sender MessageSender, payrollQueueURL, notifyQueueURL string) *Producer {
	return &Producer{
		sender:          sender,
		payrollQueueURL: payrollQueueURL,
		notifyQueueURL:  notifyQueueURL,
	}
}

func NewSQSProducer(client SQSClient, payrollQueueURL, notifyQueueURL string) *Producer {
	return NewProducer(&SQSSender{client: client}, payrollQueueURL, notifyQueueURL)
}

func (p *Producer) PublishPayroll(ctx context.Context, body interface{}) error {
	return p.publish(ctx, p.payrollQueueURL, body)
}

func (p *Producer) PublishNotify(ctx context.Context, body interface{}) error {
	return p.publish(ctx, p.notifyQueueURL, body)
}

func (p *Producer) publish(ctx context.Context, destination string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	// Enrich the current span with the record owner if available
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		var payload struct {
			OwnerID string `json:"ownerId"`
		}
		if err := json.Unmarshal(b, &payload); err == nil && payload.OwnerID != "" {
			span.SetAttributes(attribute.String("app.ownerId", payload.OwnerID))
		}
	}

	if err := p.sender.SendMessage(ctx, destination, b); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
