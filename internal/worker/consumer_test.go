package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQSClient struct {
	deleted    int
	visibility []int32
}

func (c *fakeSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (c *fakeSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	c.deleted++
	return &sqs.DeleteMessageOutput{}, nil
}

func (c *fakeSQSClient) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	c.visibility = append(c.visibility, params.VisibilityTimeout)
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

type stubProcessor struct {
	shouldRetry bool
	retryDelay  int32
	err         error
}

func (p *stubProcessor) Process(ctx context.Context, msg types.Message) (bool, int32, error) {
	return p.shouldRetry, p.retryDelay, p.err
}

func message() types.Message {
	body := "{}"
	handle := "rh-1"
	id := "msg-1"
	return types.Message{Body: &body, ReceiptHandle: &handle, MessageId: &id}
}

func TestHandleMessageDeletesOnSuccess(t *testing.T) {
	client := &fakeSQSClient{}
	w := NewWorker(client, "q", &stubProcessor{}, 1)

	w.handleMessage(context.Background(), message())

	if client.deleted != 1 {
		t.Fatalf("expected one delete, got %d", client.deleted)
	}
	if len(client.visibility) != 0 {
		t.Fatal("successful message must not change visibility")
	}
}

func TestHandleMessageExtendsVisibilityOnRetry(t *testing.T) {
	client := &fakeSQSClient{}
	proc := &stubProcessor{shouldRetry: true, retryDelay: 40, err: errors.New("downstream busy")}
	w := NewWorker(client, "q", proc, 1)

	w.handleMessage(context.Background(), message())

	if client.deleted != 0 {
		t.Fatal("retried message must not be deleted")
	}
	if len(client.visibility) != 1 || client.visibility[0] != 40 {
		t.Fatalf("expected visibility extended to 40s, got %v", client.visibility)
	}
}

func TestHandleMessageDropsUnrecoverable(t *testing.T) {
	client := &fakeSQSClient{}
	proc := &stubProcessor{err: errors.New("malformed body")}
	w := NewWorker(client, "q", proc, 1)

	w.handleMessage(context.Background(), message())

	if client.deleted != 0 {
		t.Fatal("unrecoverable message must not be deleted here")
	}
	if len(client.visibility) != 0 {
		t.Fatal("unrecoverable message must not change visibility")
	}
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    int32
	}{
		{0, 10},
		{1, 20},
		{2, 40},
		{5, 320},
		{9, 3600},
		{20, 3600},
	}
	for _, tc := range tests {
		if got := RetryBackoff(tc.attempt); got != tc.want {
			t.Fatalf("RetryBackoff(%d) = %d, want %d", tc.attempt, got, tc.want)
		}
	}
}
