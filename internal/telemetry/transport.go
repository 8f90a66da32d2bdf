package telemetry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
)

// NopTransport accepts every document and drops it. It backs the "none"
// transport so a study can run with telemetry.send=true and no ingestion.
type NopTransport struct {
	Logger *slog.Logger
}

func (t NopTransport) Deliver(_ context.Context, doc Document) error {
	logger.OrDefault(t.Logger).Debug("ping dropped by nop transport",
		slog.String("ping_id", doc.ID),
		slog.String("bucket", doc.Bucket),
	)
	return nil
}

// HTTPTransport POSTs each document to <endpoint>/<id>/<bucket>.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport creates a transport with its own client and timeout.
func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Deliver(ctx context.Context, doc Document) error {
	url := fmt.Sprintf("%s/%s/%s", t.endpoint, doc.ID, doc.Bucket)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(doc.Body))
	if err != nil {
		return fmt.Errorf("failed to build telemetry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Date", doc.SubmittedAt.Format(http.TimeFormat))
	req.Header.Set("X-Client-Id", doc.ClientID)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// DefaultStream is the Redis stream pings are appended to.
const DefaultStream = "shield:telemetry"

// RedisStreamTransport appends each document to a Redis stream with XADD.
// A downstream consumer group forwards them to ingestion.
type RedisStreamTransport struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamTransport creates a transport. maxLen > 0 approximately caps
// the stream length (MAXLEN ~).
func NewRedisStreamTransport(client *redis.Client, stream string, maxLen int64) *RedisStreamTransport {
	if client == nil {
		panic("telemetry: redis client cannot be nil")
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamTransport{client: client, stream: stream, maxLen: maxLen}
}

func (t *RedisStreamTransport) Deliver(ctx context.Context, doc Document) error {
	args := &redis.XAddArgs{
		Stream: t.stream,
		Values: map[string]any{
			"id":           doc.ID,
			"bucket":       doc.Bucket,
			"client_id":    doc.ClientID,
			"submitted_at": doc.SubmittedAt.Format(time.RFC3339Nano),
			"body":         string(doc.Body),
		},
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}

	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append ping to stream %s: %w", t.stream, err)
	}
	return nil
}
