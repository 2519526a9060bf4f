package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-gatekeeper/internal/models"
)

// Producer streams gate events. In mock mode events are logged and
// dropped, which keeps local development broker-free.
type Producer struct {
	Writer   *kafka.Writer
	MockMode bool
}

func NewProducer(brokers []string, mockMode bool) *Producer {
	if mockMode {
		return &Producer{MockMode: true}
	}
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.LeastBytes{},
	})
	return &Producer{Writer: writer}
}

// Publish sends a single keyed message to the given topic.
func (p *Producer) Publish(topic, key string, value []byte) error {
	if p.MockMode {
		fmt.Printf("Kafka mock publish [%s] %s: %s\n", topic, key, string(value))
		return nil
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

type securityCodeMintedEvent struct {
	TicketID string    `json:"ticketId"`
	EventID  string    `json:"eventId"`
	AssetID  string    `json:"assetId"`
	MintedAt time.Time `json:"mintedAt"`
}

type ticketCheckedInEvent struct {
	TicketID    string     `json:"ticketId"`
	EventID     string     `json:"eventId"`
	AssetID     string     `json:"assetId"`
	CheckInUser string     `json:"checkInUser"`
	CheckInTime *time.Time `json:"checkInTime"`
}

// PublishSecurityCodeMinted streams the first successful verification of
// a ticket. The security code itself never leaves the service.
func (p *Producer) PublishSecurityCodeMinted(topic string, ticket *models.Ticket) error {
	value, err := json.Marshal(securityCodeMintedEvent{
		TicketID: ticket.ID,
		EventID:  ticket.EventID,
		AssetID:  ticket.AssetID,
		MintedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.Publish(topic, ticket.ID, value)
}

// PublishTicketCheckedIn streams a completed gate check-in.
func (p *Producer) PublishTicketCheckedIn(topic string, ticket *models.Ticket) error {
	value, err := json.Marshal(ticketCheckedInEvent{
		TicketID:    ticket.ID,
		EventID:     ticket.EventID,
		AssetID:     ticket.AssetID,
		CheckInUser: ticket.CheckInUser,
		CheckInTime: ticket.CheckInTime,
	})
	if err != nil {
		return err
	}
	return p.Publish(topic, ticket.ID, value)
}

func (p *Producer) Close() error {
	if p.Writer != nil {
		return p.Writer.Close()
	}
	return nil
}
