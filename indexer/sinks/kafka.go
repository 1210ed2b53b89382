// Package sinks holds the outbound fan-out targets fed by the pipeline: a
// Kafka publisher for downstream consumers and a Telegram notifier for
// humans. Both are best effort; neither failure mode ever blocks indexing.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/types"
)

const kafkaDialTimeout = 10 * time.Second

// Publisher writes token lifecycle messages to Kafka. If the brokers are
// unreachable at startup the publisher disables itself and every Publish
// call becomes a no-op.
type Publisher struct {
	writer  *kafka.Writer
	prefix  string
	enabled bool
	log     *logrus.Entry
}

// envelope is the wire shape shared by all published messages.
type envelope struct {
	EventType string      `json:"event_type"`
	ChainID   uint64      `json:"chain_id"`
	Timestamp time.Time   `json:"timestamp"`
	Token     interface{} `json:"token"`
}

// NewPublisher dials the brokers once to verify reachability. On failure it
// returns a disabled publisher rather than an error; message delivery is not
// worth failing startup over.
func NewPublisher(ctx context.Context, settings *params.Settings) *Publisher {
	log := logrus.WithField("prefix", "kafka")
	p := &Publisher{prefix: settings.KafkaTopicPrefix, log: log}
	if len(settings.KafkaBrokers) == 0 {
		log.Info("No Kafka brokers configured, publisher disabled")
		return p
	}

	dialCtx, cancel := context.WithTimeout(ctx, kafkaDialTimeout)
	defer cancel()
	conn, err := kafka.DialContext(dialCtx, "tcp", settings.KafkaBrokers[0])
	if err != nil {
		log.WithError(err).Warn("Kafka brokers unreachable, publisher disabled")
		return p
	}
	if err := conn.Close(); err != nil {
		log.WithError(err).Debug("Could not close Kafka probe connection")
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(settings.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			Dial: (&net.Dialer{Timeout: kafkaDialTimeout}).DialContext,
		},
	}
	p.enabled = true
	log.WithField("brokers", settings.KafkaBrokers).Info("Kafka publisher connected")
	return p
}

// Enabled reports whether the startup probe succeeded.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishTokenCreated emits a "{prefix}.token.created" message.
func (p *Publisher) PublishTokenCreated(ctx context.Context, chainID uint64, token *types.Token) error {
	return p.publish(ctx, p.prefix+".token.created", "token.created", chainID, token)
}

// PublishTokenAuditRequest emits a "{prefix}.token.audit_request" message
// for the downstream audit workers.
func (p *Publisher) PublishTokenAuditRequest(ctx context.Context, chainID uint64, token *types.Token) error {
	return p.publish(ctx, p.prefix+".token.audit_request", "token.audit_request", chainID, token)
}

func (p *Publisher) publish(ctx context.Context, topic, eventType string, chainID uint64, token *types.Token) error {
	if !p.enabled {
		return nil
	}
	payload, err := json.Marshal(envelope{
		EventType: eventType,
		ChainID:   chainID,
		Timestamp: time.Now().UTC(),
		Token:     token,
	})
	if err != nil {
		return errors.Wrap(err, "could not marshal message payload")
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%d:%s", chainID, token.TokenAddress)),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "could not publish to %s", topic)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
