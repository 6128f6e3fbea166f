package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/devblac/chain-sentinel/internal/alert"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Envelope wraps an alert for message buses.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

func encodeEnvelope(a alert.Alert) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	b, err := json.Marshal(Envelope{
		Type: alert.EventAlert,
		TS:   time.Now().UnixMilli(),
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// natsConn is the subset of *nats.Conn used by NATSSender.
type natsConn interface {
	Publish(subj string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSSender publishes alert envelopes to a NATS subject.
type NATSSender struct {
	conn    natsConn
	subject string
}

// NewNATSSender connects to url and publishes on subject.
func NewNATSSender(url, subject string) (*NATSSender, error) {
	if url == "" || subject == "" {
		return nil, fmt.Errorf("nats url and subject required")
	}
	conn, err := nats.Connect(url,
		nats.Name("chain-sentinel"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSender{conn: conn, subject: subject}, nil
}

func (s *NATSSender) Send(ctx context.Context, a alert.Alert) error {
	b, err := encodeEnvelope(a)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, b); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

// Close releases the connection.
func (s *NATSSender) Close() error {
	s.conn.Close()
	return nil
}

// KafkaSender produces alert envelopes to a Kafka topic, keyed by tx hash so
// alerts for one transaction share a partition.
type KafkaSender struct {
	topic string
	p     sarama.SyncProducer
}

// NewKafkaSender dials brokers with a synchronous producer.
func NewKafkaSender(brokers []string, topic string, cfg *sarama.Config) (*KafkaSender, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic required")
	}
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &KafkaSender{topic: topic, p: p}, nil
}

func (s *KafkaSender) Send(_ context.Context, a alert.Alert) error {
	b, err := encodeEnvelope(a)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Value: sarama.ByteEncoder(b),
	}
	if h := a.TxHash(); h != "" {
		msg.Key = sarama.StringEncoder(h)
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSender) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

const redisHistory = 100

// redisClient is the subset of *redis.Client used by RedisSender.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Close() error
}

// RedisSender publishes alert envelopes on a channel and keeps the most
// recent ones in a capped list at "<channel>:recent".
type RedisSender struct {
	rdb     redisClient
	channel string
}

// NewRedisSender builds a sender for addr.
func NewRedisSender(addr, password string, db int, channel string) (*RedisSender, error) {
	if addr == "" || channel == "" {
		return nil, fmt.Errorf("redis addr and channel required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisSender{rdb: rdb, channel: channel}, nil
}

func (s *RedisSender) Send(ctx context.Context, a alert.Alert) error {
	b, err := encodeEnvelope(a)
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.channel, b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	key := s.channel + ":recent"
	if err := s.rdb.LPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("redis history: %w", err)
	}
	if err := s.rdb.LTrim(ctx, key, 0, redisHistory-1).Err(); err != nil {
		return fmt.Errorf("redis trim: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisSender) Close() error {
	return s.rdb.Close()
}
