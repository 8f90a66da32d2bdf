package telemetry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/prefs"
)

// captureTransport keeps delivered documents in memory.
type captureTransport struct {
	mu   sync.Mutex
	docs []Document
	err  error
}

func (c *captureTransport) Deliver(_ context.Context, doc Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.docs = append(c.docs, doc)
	return nil
}

func samplePayload() *Payload {
	return testIdentity.envelope(BucketStudy, StateData{StudyState: "enter"})
}

func TestPlainPipeline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should deliver the serialized payload with routing metadata", func(t *testing.T) {
		tr := &captureTransport{}
		p := NewPlainPipeline("client-1", tr)

		id, err := p.Submit(ctx, BucketStudy, samplePayload())

		require.NoError(t, err)
		require.Len(t, tr.docs, 1)
		doc := tr.docs[0]
		assert.Equal(t, id, doc.ID)
		assert.Len(t, id, 36, "ping ids are UUIDs")
		assert.Equal(t, BucketStudy, doc.Bucket)
		assert.Equal(t, "client-1", doc.ClientID)
		assert.JSONEq(t, `{"version":3,"study_name":"button-study","branch":"kittens","addon_version":"1.0.0",
			"shield_version":"5.3.0","type":"shield-study","data":{"study_state":"enter"},"testing":true}`, string(doc.Body))

		size, err := p.PingSize(BucketStudy, samplePayload())
		require.NoError(t, err)
		assert.Equal(t, len(doc.Body), size)

		tid, err := p.TelemetryID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "client-1", tid)
	})

	t.Run("Should surface transport errors", func(t *testing.T) {
		p := NewPlainPipeline("c", &captureTransport{err: errors.New("refused")})

		_, err := p.Submit(ctx, BucketStudy, samplePayload())

		assert.ErrorContains(t, err, "refused")
	})

	t.Run("Should panic without a transport", func(t *testing.T) {
		assert.Panics(t, func() { NewPlainPipeline("c", nil) })
	})
}

func TestEncryptedPipeline(t *testing.T) {
	t.Parallel()

	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	tr := &captureTransport{}
	p, err := NewEncryptedPipeline("client-1", tr, identity.Recipient().String(), "key-7", "")
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), BucketStudy, samplePayload())
	require.NoError(t, err)
	require.Len(t, tr.docs, 1)

	var body EncryptedBody
	require.NoError(t, json.Unmarshal(tr.docs[0].Body, &body))
	assert.Equal(t, "key-7", body.EncryptionKeyID)
	assert.Equal(t, "client-1", body.PioneerID, "pioneer id defaults to the client id")
	assert.Equal(t, "button-study", body.StudyName)
	assert.Equal(t, BucketStudy, body.SchemaName)
	assert.Equal(t, PacketVersion, body.SchemaVersion)

	sealed, err := base64.StdEncoding.DecodeString(body.EncryptedData)
	require.NoError(t, err)
	r, err := age.Decrypt(bytes.NewReader(sealed), identity)
	require.NoError(t, err)
	plain, err := io.ReadAll(r)
	require.NoError(t, err)

	var got Payload
	require.NoError(t, json.Unmarshal(plain, &got))
	assert.Equal(t, "kittens", got.Branch)
	assert.Equal(t, BucketStudy, got.Type)

	size, err := p.PingSize(BucketStudy, samplePayload())
	require.NoError(t, err)
	assert.Greater(t, size, 0)
	assert.Equal(t, "encrypted", p.Name())
}

func TestEncryptedPipeline_RejectsBadRecipient(t *testing.T) {
	t.Parallel()
	_, err := NewEncryptedPipeline("c", &captureTransport{}, "not-a-key", "k", "")
	assert.Error(t, err)
}

func TestHTTPTransport(t *testing.T) {
	t.Parallel()

	t.Run("Should POST the body to id/bucket", func(t *testing.T) {
		var gotPath, gotType, gotClient string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotType = r.Header.Get("Content-Type")
			gotClient = r.Header.Get("X-Client-Id")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		tr := NewHTTPTransport(srv.URL+"/submit/", time.Second)
		err := tr.Deliver(context.Background(), Document{
			ID: "abc", Bucket: BucketAddon, ClientID: "client-1",
			SubmittedAt: time.Now(), Body: []byte(`{"x":1}`),
		})

		require.NoError(t, err)
		assert.Equal(t, "/submit/abc/shield-study-addon", gotPath)
		assert.Equal(t, "application/json; charset=utf-8", gotType)
		assert.Equal(t, "client-1", gotClient)
		assert.JSONEq(t, `{"x":1}`, string(gotBody))
	})

	t.Run("Should fail on a non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewHTTPTransport(srv.URL, time.Second).Deliver(context.Background(), Document{ID: "a", Bucket: "b"})

		assert.ErrorContains(t, err, "503")
	})
}

func TestNopTransport(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NopTransport{}.Deliver(context.Background(), Document{ID: "x"}))
}

func TestResolveClientID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should prefer the override and not persist it", func(t *testing.T) {
		store := prefs.NewMemoryStore()
		id, err := ResolveClientID(ctx, store, "telemetry.clientId", "fixed")
		require.NoError(t, err)
		assert.Equal(t, "fixed", id)
		assert.Empty(t, store.Snapshot())
	})

	t.Run("Should generate once and reuse afterwards", func(t *testing.T) {
		store := prefs.NewMemoryStore()

		first, err := ResolveClientID(ctx, store, "telemetry.clientId", "")
		require.NoError(t, err)
		second, err := ResolveClientID(ctx, store, "telemetry.clientId", "")
		require.NoError(t, err)

		assert.Len(t, first, 36)
		assert.Equal(t, first, second)
		assert.Equal(t, first, store.Snapshot()["telemetry.clientId"])
	})
}
