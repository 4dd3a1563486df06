//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/civic-map-etl/internal/adapter/fetch"
	"github.com/couchcryptid/civic-map-etl/internal/adapter/kafka"
	"github.com/couchcryptid/civic-map-etl/internal/catalog"
	"github.com/couchcryptid/civic-map-etl/internal/config"
	"github.com/couchcryptid/civic-map-etl/internal/domain"
	"github.com/couchcryptid/civic-map-etl/internal/observability"
	"github.com/couchcryptid/civic-map-etl/internal/pipeline"
)

const testTopic = "test-civic-records"

// publishedMessage holds a deserialized message read from the topic.
type publishedMessage struct {
	Record  domain.Record
	Key     string
	Headers map[string]string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("civic-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var record domain.Record
	require.NoError(t, json.Unmarshal(msg.Value, &record), "unmarshal message")
	return publishedMessage{Record: record, Key: string(msg.Key), Headers: headers}
}

// mockSources serves data/mock over HTTP and returns the project definitions
// pointed at it.
func mockSources(t *testing.T) []domain.SourceDefinition {
	t.Helper()

	srv := httptest.NewServer(http.FileServer(http.Dir(filepath.Join("..", "..", "data", "mock"))))
	t.Cleanup(srv.Close)

	cat, err := catalog.Default()
	require.NoError(t, err)

	var defs []domain.SourceDefinition
	for _, name := range []string{"Town Projects", "MPW Projects", "DHEC Permits"} {
		def, ok := cat.Lookup(name)
		require.True(t, ok)
		def.URL = srv.URL + "/" + path.Base(def.URL)
		defs = append(defs, def)
	}
	return defs
}

// TestPublishJobEndToEnd loads the mock sources over HTTP, publishes them to
// a real broker and reads every record back.
func TestPublishJobEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}
	metrics := observability.NewMetricsForTesting()

	client := fetch.NewClient(fetch.Options{Timeout: 5 * time.Second}, discardLogger(), metrics)
	loader := pipeline.NewLoader(fetch.NewFetcher(client), pipeline.Options{Concurrency: 2}, discardLogger(), metrics)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	publishedAt := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	job := pipeline.NewPublishJob(loader, mockSources(t), writer, clockwork.NewFakeClockAt(publishedAt), discardLogger(), metrics)
	require.NoError(t, job.RunOnce(ctx))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	const expected = 7
	received := make([]publishedMessage, 0, expected)
	for len(received) < expected {
		received = append(received, readPublished(ctx, t, consumer))
	}

	sourceCounts := map[string]int{}
	for _, m := range received {
		sourceCounts[m.Record.Source]++
		assert.Equal(t, m.Record.ID, m.Key)
		assert.Equal(t, m.Record.Source, m.Headers["source"])
		assert.Equal(t, "2024-06-12T09:00:00Z", m.Headers["published_at"])
	}
	assert.Equal(t, 3, sourceCounts["Town Projects"])
	assert.Equal(t, 2, sourceCounts["MPW Projects"])
	assert.Equal(t, 2, sourceCounts["DHEC Permits"])

	// Single partition keeps definition order.
	assert.Equal(t, "Shem Creek Park Boardwalk", received[0].Record.Name)
	assert.Equal(t, "Mount Pleasant Waterworks", received[expected-1].Record.Name)
}
