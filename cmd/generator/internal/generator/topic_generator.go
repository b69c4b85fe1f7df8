package generator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicCreator makes sure the feed topics exist before the first publish.
type TopicCreator struct {
	logger     *zap.Logger
	dialer     KafkaDialer
	clock      Clock
	partitions int
}

func NewTopicCreator(logger *zap.Logger, dialer KafkaDialer, clock Clock, partitions int) *TopicCreator {
	if partitions < 1 {
		partitions = 1
	}
	return &TopicCreator{
		logger:     logger,
		dialer:     dialer,
		clock:      clock,
		partitions: partitions,
	}
}

// Create returns an error only when no broker can be reached. Topic creation
// failures are logged since the topics may already exist.
func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topics ...string) error {
	var conn KafkaConn
	var err error

	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	for _, addr := range brokers {
		conn, err = tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		tc.logger.Warn("Failed to dial broker", zap.String("addr", addr), zap.Error(err))
	}
	if err != nil {
		return fmt.Errorf("dial brokers %v: %w", brokers, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		tc.logger.Warn("Failed to get controller", zap.Error(err))
		return nil
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dialer.DialContext(ctx, "tcp", controllerAddr)
	if err != nil {
		tc.logger.Warn("Failed to dial controller", zap.Error(err))
		return nil
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     tc.partitions,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.Strings("topics", topics))
	}

	for _, t := range topics {
		tc.waitForTopic(conn, t)
	}
	return nil
}

func (tc *TopicCreator) waitForTopic(conn KafkaConn, topicName string) {
	for i := 0; i < 5; i++ {
		partitions, err := conn.ReadPartitions(topicName)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topicName), zap.Int("partitions", len(partitions)))
			return
		}
		tc.clock.Sleep(200 * time.Millisecond)
	}
	tc.logger.Warn("Timed out waiting for topic", zap.String("topic", topicName))
}
