package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	eventType      = "ai.mindroom.orchestrator.instance.status"
	driftEventType = "ai.mindroom.orchestrator.instance.drift"
	eventSource    = "mindroom.orchestrator"
)

// InstanceEvent represents an instance lifecycle status event
type InstanceEvent struct {
	InstanceID string    `json:"instanceId"`
	AppName    string    `json:"appName"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DriftEvent reports applications missing on the remote host for an
// instance the store believes is running
type DriftEvent struct {
	InstanceID  string    `json:"instanceId"`
	AppName     string    `json:"appName"`
	MissingApps []string  `json:"missingApps"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher handles NATS event publishing with CloudEvents formatting
type Publisher struct {
	natsConn     *nats.Conn
	natsURL      string
	timeout      time.Duration
	maxReconnect int
}

// PublisherConfig contains configuration for the event publisher
type PublisherConfig struct {
	NATSURL      string
	Timeout      time.Duration
	MaxReconnect int
}

// NewPublisher creates a new NATS publisher
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	p := &Publisher{
		natsURL:      config.NATSURL,
		timeout:      config.Timeout,
		maxReconnect: config.MaxReconnect,
	}

	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	return p, nil
}

// connect establishes connection to NATS server
func (p *Publisher) connect() error {
	opts := []nats.Option{
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(p.maxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %v", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(p.natsURL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p.natsConn = nc
	return nil
}

// PublishInstanceEvent publishes an instance status change event to NATS
func (p *Publisher) PublishInstanceEvent(ctx context.Context, instanceEvent InstanceEvent) error {
	if p.natsConn == nil || !p.natsConn.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.New().String())
	event.SetType(eventType)
	event.SetSource(eventSource)
	event.SetSubject(fmt.Sprintf("mindroom.instance.%s", instanceEvent.InstanceID))
	event.SetTime(instanceEvent.Timestamp)

	if err := event.SetData(cloudevents.ApplicationJSON, instanceEvent); err != nil {
		return fmt.Errorf("failed to set CloudEvent data: %w", err)
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	// Per-instance subject pattern
	subject := fmt.Sprintf("mindroom.instance.%s", instanceEvent.InstanceID)

	if err := p.natsConn.Publish(subject, eventData); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	if err := p.natsConn.FlushTimeout(p.timeout); err != nil {
		return fmt.Errorf("failed to flush NATS message: %w", err)
	}

	log.Printf("Published instance event for %s to NATS subject %s", instanceEvent.InstanceID, subject)
	return nil
}

// PublishDriftEvent publishes a drift report for one instance to NATS
func (p *Publisher) PublishDriftEvent(ctx context.Context, driftEvent DriftEvent) error {
	if p.natsConn == nil || !p.natsConn.IsConnected() {
		return fmt.Errorf("NATS connection not available")
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.New().String())
	event.SetType(driftEventType)
	event.SetSource(eventSource)
	event.SetSubject(fmt.Sprintf("mindroom.instance.%s", driftEvent.InstanceID))
	event.SetTime(driftEvent.Timestamp)

	if err := event.SetData(cloudevents.ApplicationJSON, driftEvent); err != nil {
		return fmt.Errorf("failed to set CloudEvent data: %w", err)
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	subject := fmt.Sprintf("mindroom.instance.%s", driftEvent.InstanceID)

	if err := p.natsConn.Publish(subject, eventData); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	if err := p.natsConn.FlushTimeout(p.timeout); err != nil {
		return fmt.Errorf("failed to flush NATS message: %w", err)
	}

	log.Printf("Published drift event for %s to NATS subject %s", driftEvent.InstanceID, subject)
	return nil
}

// Close gracefully closes the NATS connection
func (p *Publisher) Close() error {
	if p.natsConn != nil {
		p.natsConn.Close()
	}
	return nil
}

// IsConnected returns whether NATS connection is active
func (p *Publisher) IsConnected() bool {
	return p.natsConn != nil && p.natsConn.IsConnected()
}
