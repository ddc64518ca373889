package command

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/otusdds/recorder/internal/controller"
)

// KafkaConfig configures the remote control plane (spec.md §6
// remote-controller.*), standing in for the spec's DDS command/status
// topics per SPEC_FULL.md §2.8.
type KafkaConfig struct {
	Brokers      []string
	CommandTopic string
	StatusTopic  string
	GroupID      string
}

// KafkaReceiver consumes the command topic and produces the status topic.
// It implements both the command-ingress loop (Run) and
// controller.Publisher (Publish), grounded on
// firestige-Otus/internal/command/kafka.go's reader/writer pairing.
type KafkaReceiver struct {
	cfg        KafkaConfig
	dispatcher Dispatcher
	log        *logrus.Entry

	reader *kafka.Reader
	writer *kafka.Writer
}

// NewKafkaReceiver builds a KafkaReceiver. Run must be called to start
// consuming; Close releases both the reader and writer.
func NewKafkaReceiver(cfg KafkaConfig, dispatcher Dispatcher, log *logrus.Entry) *KafkaReceiver {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.CommandTopic,
		GroupID: cfg.GroupID,
		// Reader QoS (spec.md §4.7): reliable, volatile, keep-last depth
		// 1 has no literal Kafka equivalent. The reader joins the
		// configured consumer group (ReadMessage commits offsets); a group
		// with no committed offset starts at the newest message, skipping
		// commands sent before it joined.
		StartOffset: kafka.LastOffset,
	})
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.StatusTopic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaReceiver{cfg: cfg, dispatcher: dispatcher, log: log, reader: reader, writer: writer}
}

var _ controller.Publisher = (*KafkaReceiver)(nil)

// Run consumes the command topic until ctx is cancelled, dispatching each
// message's command/args through Dispatcher. Malformed or rejected
// commands are logged and skipped, never propagated to the caller, per
// spec.md §7 "ingest and worker paths must never throw to the DDS layer".
func (k *KafkaReceiver) Run(ctx context.Context) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.log.WithError(err).Warn("kafka command read failed")
			continue
		}

		var req Request
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			k.log.WithError(err).Warn("malformed command message on kafka topic")
			continue
		}
		if err := k.dispatcher.Dispatch(ctx, req.Command, req.Args); err != nil {
			k.log.WithError(err).WithField("command", req.Command).Warn("command rejected")
		}
	}
}

// Publish implements controller.Publisher. Writer QoS (spec.md §4.7:
// reliable, transient-local, keep-last depth 1, "so late-joiners observe
// current status") has no literal Kafka equivalent either; this is
// approximated by keying every status message with the status topic name
// so that, if the topic has log compaction enabled, only the latest
// status survives compaction — a convention documented here and in
// DESIGN.md, not enforced by this process.
func (k *KafkaReceiver) Publish(status controller.Status) {
	payload, err := json.Marshal(StatusMessage{
		Current:  status.Current,
		Previous: status.Previous,
		Info:     status.Info,
	})
	if err != nil {
		k.log.WithError(err).Error("failed to encode status message")
		return
	}

	err = k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(k.cfg.StatusTopic),
		Value: payload,
	})
	if err != nil {
		k.log.WithError(err).Warn("failed to publish status to kafka")
	}
}

// Close releases the reader and writer.
func (k *KafkaReceiver) Close() error {
	readErr := k.reader.Close()
	writeErr := k.writer.Close()
	if readErr != nil {
		return readErr
	}
	return writeErr
}
