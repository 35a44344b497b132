package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

// KafkaSource reads inserted report documents from a topic fed by a CDC
// connector. Consumer-group offsets carry the position, so the resume token
// is informational only.
type KafkaSource struct {
	cfg kafkago.ReaderConfig
}

func NewKafkaSource(brokers []string, topic, groupID string) *KafkaSource {
	return &KafkaSource{
		cfg: kafkago.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6, // 10 MB
			MaxWait:  time.Second,
		},
	}
}

func (k *KafkaSource) SubscribeInserts(ctx context.Context, resumeToken string) (repository.InsertStream, error) {
	return &kafkaStream{reader: kafkago.NewReader(k.cfg)}, nil
}

const closeCommitTimeout = 5 * time.Second

// messageReader is the part of *kafkago.Reader a stream uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// kafkaStream commits a message only when the next one is requested or the
// stream is closed, that is after the watcher has handed the record on.
type kafkaStream struct {
	reader  messageReader
	pending *kafkago.Message
}

func (s *kafkaStream) Next(ctx context.Context) (models.RawRecord, error) {
	s.commitPending(ctx)

	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("kafka fetch: %w", err)
	}
	s.pending = &msg

	rec := decodeDocument(msg.Value)
	rec.ResumeToken = fmt.Sprintf("%d:%d", msg.Partition, msg.Offset)
	return rec, nil
}

func (s *kafkaStream) commitPending(ctx context.Context) {
	if s.pending == nil {
		return
	}
	if err := s.reader.CommitMessages(ctx, *s.pending); err != nil {
		slog.Warn("kafka commit failed, message may be replayed",
			"topic", s.pending.Topic,
			"partition", s.pending.Partition,
			"offset", s.pending.Offset,
			"error", err,
		)
	}
	s.pending = nil
}

// Position is always empty: the consumer group tracks where to resume.
func (s *kafkaStream) Position() string {
	return ""
}

// Close commits the last fetched message. The watcher's context is usually
// done by now, so the commit gets its own deadline.
func (s *kafkaStream) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeCommitTimeout)
	defer cancel()
	s.commitPending(ctx)
	return s.reader.Close()
}

// reportDocument mirrors the stored report document. Change events that wrap
// it in a fullDocument envelope are unwrapped first.
type reportDocument struct {
	ID           json.RawMessage `json:"_id"`
	Text         string          `json:"text"`
	DisasterType string          `json:"disaster_type"`
	Severity     string          `json:"severity"`
	LocationText *string         `json:"location_text"`
	Confidence   float64         `json:"confidence"`
	Timestamp    string          `json:"timestamp"`
	Location     *struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"location"`
}

type changeEnvelope struct {
	FullDocument json.RawMessage `json:"fullDocument"`
}

// decodeDocument never fails: whatever cannot be read stays empty and the
// normalizer rejects the record.
func decodeDocument(value []byte) models.RawRecord {
	rec := models.RawRecord{Raw: value}

	body := value
	var env changeEnvelope
	if err := json.Unmarshal(value, &env); err == nil && len(env.FullDocument) > 0 {
		body = env.FullDocument
	}

	var doc reportDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		slog.Debug("undecodable change document", "error", err)
		return rec
	}

	rec.ID = decodeID(doc.ID)
	rec.Text = doc.Text
	rec.DisasterType = doc.DisasterType
	rec.Severity = doc.Severity
	rec.Confidence = doc.Confidence
	if doc.LocationText != nil {
		rec.LocationText = *doc.LocationText
	}
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(doc.Timestamp)); err == nil {
		rec.OccurredAt = t
	}
	if doc.Location != nil && len(doc.Location.Coordinates) == 2 {
		lon, lat := doc.Location.Coordinates[0], doc.Location.Coordinates[1]
		rec.Longitude = &lon
		rec.Latitude = &lat
	}
	return rec
}

// decodeID accepts a plain string or an extended-JSON {"$oid": "..."}.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var oid struct {
		OID string `json:"$oid"`
	}
	if err := json.Unmarshal(raw, &oid); err == nil {
		return oid.OID
	}
	return ""
}
