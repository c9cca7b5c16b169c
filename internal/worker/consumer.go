package worker

import (
	"context"
	"math"

	"attendance.service/pkg/logger"
	"attendance.service/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Processor handles one SQS message and reports whether the worker should
// retry it, and after how many seconds. The same worker loop serves both
// the notify and the payroll queue.
type Processor interface {
	Process(ctx context.Context, msg types.Message) (shouldRetry bool, retryDelay int32, err error)
}

// Worker polls one SQS queue and hands messages to a Processor over a pool
// of goroutines.
type Worker struct {
	client      SQSClient
	queueURL    string
	processor   Processor
	concurrency int
}

// NewWorker creates an SQS worker with the given processing concurrency.
func NewWorker(client SQSClient, url string, proc Processor, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Worker{
		client:      client,
		queueURL:    url,
		processor:   proc,
		concurrency: concurrency,
	}
}

// Start runs the polling loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	log.Info().Int("concurrency", w.concurrency).Str("queue", w.queueURL).Msg("SQS worker started, polling for messages")

	messages := make(chan types.Message, w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		go func() {
			for msg := range messages {
				w.handleMessage(ctx, msg)
			}
		}()
	}

	defer close(messages)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller shutting down...")
			return
		default:
			output, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              &w.queueURL,
				MaxNumberOfMessages:   int32(w.concurrency),
				WaitTimeSeconds:       20,
				MessageAttributeNames: []string{"All"}, // carries trace context
			})
			if err != nil {
				log.Error().Err(err).Msg("Error receiving messages")
				continue
			}
			for _, msg := range output.Messages {
				messages <- msg
			}
		}
	}
}

// handleMessage processes a single message and then either deletes it or
// extends its visibility timeout so the queue redelivers it later.
func (w *Worker) handleMessage(ctx context.Context, msg types.Message) {
	ctx, span := telemetry.StartSpanFromSQSMessage(ctx, msg)
	defer span.End()

	ctx = logger.EnrichContextWithLogger(ctx)

	shouldRetry, retryDelay, err := w.processor.Process(ctx, msg)

	switch {
	case err == nil:
		// Only delete on total success.
		_, _ = w.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      &w.queueURL,
			ReceiptHandle: msg.ReceiptHandle,
		})
	case shouldRetry:
		log.Ctx(ctx).Warn().Err(err).Int32("retry_delay", retryDelay).Msg("Processing failed, will retry")
		_, _ = w.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          &w.queueURL,
			ReceiptHandle:     msg.ReceiptHandle,
			VisibilityTimeout: retryDelay,
		})
	default:
		// Unrecoverable, e.g. a malformed message body.
		log.Ctx(ctx).Error().Err(err).Msg("Unrecoverable error processing message, will not retry")
	}
}

// RetryBackoff returns the redelivery delay in seconds for the given
// attempt, doubling each time and capping at one hour.
func RetryBackoff(retryCount int) int32 {
	delay := int32(math.Pow(2, float64(retryCount)) * 10)
	if delay > 3600 {
		return 3600
	}
	return delay
}
