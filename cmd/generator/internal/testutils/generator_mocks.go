package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/simfeed/cmd/generator/internal/generator"
)

// Record is one captured Publish call.
type Record struct {
	Topic   string
	Key     string
	Value   any
	Payload []byte
	Flushed bool
}

// MockPublisher captures records instead of sending them.
type MockPublisher struct {
	Records    []Record
	FlushCount int
	Mu         sync.Mutex

	FailPublish bool
	FailFlush   bool
	FailAfter   int // fail every call once this many records were accepted; 0 disables
	Closed      bool
}

var ErrTransport = errors.New("transport error")

func (m *MockPublisher) Publish(ctx context.Context, topic string, key []byte, record any) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailPublish || (m.FailAfter > 0 && len(m.Records) >= m.FailAfter) {
		return ErrTransport
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	m.Records = append(m.Records, Record{Topic: topic, Key: string(key), Value: record, Payload: payload})
	return nil
}

func (m *MockPublisher) Flush(ctx context.Context) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailFlush {
		return ErrTransport
	}
	m.FlushCount++
	for i := range m.Records {
		m.Records[i].Flushed = true
	}
	return nil
}

func (m *MockPublisher) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// Snapshot returns a copy of the captured records.
func (m *MockPublisher) Snapshot() []Record {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return append([]Record(nil), m.Records...)
}

type MockClock struct {
	CurrentTime time.Time
	Slept       time.Duration
}

func (m *MockClock) Now() time.Time { return m.CurrentTime }
func (m *MockClock) Sleep(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
	m.Slept += d
}

type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }

type MockKafkaConn struct {
	CreatedTopics []string
	Partitions    int
}

func (m *MockKafkaConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockKafkaConn) Close() error { return nil }
func (m *MockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
		m.Partitions = t.NumPartitions
	}
	return nil
}
func (m *MockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	// Simulate "Ready" state immediately
	return []kafka.Partition{{ID: 0}}, nil
}

type MockKafkaDialer struct {
	ConnSpy *MockKafkaConn
	Fail    bool
	Dials   []string
}

func (m *MockKafkaDialer) DialContext(ctx context.Context, network, address string) (generator.KafkaConn, error) {
	m.Dials = append(m.Dials, address)
	if m.Fail {
		return nil, ErrTransport
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockKafkaConn{}
	}
	return m.ConnSpy, nil
}
