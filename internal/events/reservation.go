// Package events publishes reservation lifecycle events for downstream
// consumers such as reminders and analytics.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// Type names a reservation lifecycle event.
type Type string

const (
	TypeScheduled   Type = "reservation.scheduled"
	TypeRescheduled Type = "reservation.rescheduled"
	TypeConfirmed   Type = "reservation.confirmed"
	TypeCompleted   Type = "reservation.completed"
	TypeCancelled   Type = "reservation.cancelled"
	TypeNoShow      Type = "reservation.no_show"
)

// ReservationEvent is the payload published for every reservation change.
type ReservationEvent struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	OccurredAt    time.Time  `json:"occurred_at"`
	Actor         string     `json:"actor"`
	ReservationID string     `json:"reservation_id"`
	PatientID     string     `json:"patient_id"`
	MedicID       string     `json:"medic_id"`
	ExamID        string     `json:"exam_id"`
	Status        string     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	ProtocolID    string     `json:"protocol_id,omitempty"`
	AutoScheduled bool       `json:"auto_scheduled"`
	Reason        string     `json:"reason,omitempty"`
	PreviousStart *time.Time `json:"previous_start,omitempty"`
	PreviousEnd   *time.Time `json:"previous_end,omitempty"`
}

// Publisher delivers reservation events.
type Publisher interface {
	Publish(ctx context.Context, event ReservationEvent) error
}

func prepare(event ReservationEvent) ReservationEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return event
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends events to an SQS queue. The event type is duplicated
// into a message attribute so subscribers can filter without decoding.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

// NewSQSPublisher creates a publisher around the provided SQS client.
func NewSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Publish(ctx context.Context, event ReservationEvent) error {
	event = prepare(event)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Type, err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(event.Type))},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// MemoryPublisher keeps the most recent events in memory. It backs local
// development and tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	capacity int
	events   []ReservationEvent
}

// NewMemoryPublisher retains up to capacity events.
func NewMemoryPublisher(capacity int) *MemoryPublisher {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryPublisher{capacity: capacity}
}

func (p *MemoryPublisher) Publish(ctx context.Context, event ReservationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event = prepare(event)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if len(p.events) > p.capacity {
		p.events = p.events[len(p.events)-p.capacity:]
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (p *MemoryPublisher) Events() []ReservationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ReservationEvent(nil), p.events...)
}
