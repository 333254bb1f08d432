package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/visionflow/go-visionflow/pkg/protocol"
)

// KafkaSink publishes results to a Kafka topic for downstream
// consumers. Messages are keyed by stream and frame so partition
// ordering follows the stream.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
			Async:        false,
		},
	}
}

// Store publishes one result.
func (s *KafkaSink) Store(res *protocol.ResultMessage) error {
	value, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%d", res.StreamID, res.FrameID)),
		Value: value,
		Time:  time.Now(),
	})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
