// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/record"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of *sqs.Client used by SQSQueue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Compile-time interface verification
var (
	_ Queue      = (*SQSQueue)(nil)
	_ DeadLetter = (*SQSQueue)(nil)
	_ SQSAPI     = (*sqs.Client)(nil)
)

// maxSQSBatch is the largest batch ReceiveMessage accepts.
const maxSQSBatch = 10

// SQSQueue is an SQS-backed queue. Redrive to a dead-letter queue after
// repeated receives is configured on the queue itself; Forward publishes to
// whichever queue this instance points at, so a dead-letter channel is simply
// an SQSQueue on the dead-letter URL.
type SQSQueue struct {
	api               SQSAPI
	url               string
	waitTime          time.Duration
	visibilityTimeout time.Duration
}

// SQSQueueConfig configures an SQSQueue.
type SQSQueueConfig struct {
	API               SQSAPI
	QueueURL          string
	WaitTime          time.Duration // Long-poll window per Receive (max 20s)
	VisibilityTimeout time.Duration // 0 uses the queue default
}

// NewSQSQueue creates an SQS-backed queue.
func NewSQSQueue(cfg SQSQueueConfig) (*SQSQueue, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	return &SQSQueue{
		api:               cfg.API,
		url:               cfg.QueueURL,
		waitTime:          cfg.WaitTime,
		visibilityTimeout: cfg.VisibilityTimeout,
	}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, rec *record.CopyRequest) error {
	return q.Send(ctx, MessageBody, AttributesFromRecord(rec).Map())
}

// Send publishes a raw message.
func (q *SQSQueue) Send(ctx context.Context, body string, attributes map[string]string) error {
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.url),
		MessageBody:       aws.String(body),
		MessageAttributes: toSQSAttributes(attributes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	MessagesSentTotal.WithLabelValues("sqs").Inc()
	return nil
}

// Forward republishes d. A delivery received from SQS keeps every attribute
// verbatim, so a malformed value is dead-lettered as it arrived.
func (q *SQSQueue) Forward(ctx context.Context, d *Delivery) error {
	attributes := d.sqsAttributes
	if attributes == nil {
		attributes = toSQSAttributes(d.Attributes)
	}
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.url),
		MessageBody:       aws.String(d.Body),
		MessageAttributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("forward message: %w", err)
	}
	MessagesSentTotal.WithLabelValues("sqs").Inc()
	DeadLetteredTotal.WithLabelValues("forward").Inc()
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int) ([]*Delivery, error) {
	if max <= 0 || max > maxSQSBatch {
		max = maxSQSBatch
	}
	input := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(q.url),
		MaxNumberOfMessages:         int32(max),
		WaitTimeSeconds:             int32(q.waitTime / time.Second),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	}
	if q.visibilityTimeout > 0 {
		input.VisibilityTimeout = int32(q.visibilityTimeout / time.Second)
	}

	out, err := q.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}

	deliveries := make([]*Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		d := &Delivery{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			Attributes:    fromSQSAttributes(m.MessageAttributes),
			sqsAttributes: m.MessageAttributes,
		}
		if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
			d.ReceiveCount = n
		}
		deliveries = append(deliveries, d)
	}
	MessagesReceivedTotal.Add(float64(len(deliveries)))
	return deliveries, nil
}

func (q *SQSQueue) Delete(ctx context.Context, d *Delivery) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(d.ReceiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func toSQSAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for name, value := range attrs {
		dataType := "String"
		if IsNumberAttribute(name) {
			dataType = "Number"
		}
		out[name] = types.MessageAttributeValue{
			DataType:    aws.String(dataType),
			StringValue: aws.String(value),
		}
	}
	return out
}

// fromSQSAttributes flattens the string and number attributes. Binary values
// are only kept on the delivery for forwarding.
func fromSQSAttributes(attrs map[string]types.MessageAttributeValue) map[string]string {
	out := make(map[string]string, len(attrs))
	for name, v := range attrs {
		if v.StringValue != nil {
			out[name] = *v.StringValue
		}
	}
	return out
}
