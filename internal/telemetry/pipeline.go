package telemetry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
)

// Pipeline is the collaborator that carries pings out of the process.
type Pipeline interface {
	// Name labels metrics ("plain", "encrypted").
	Name() string

	// TelemetryID returns the per-install client id.
	TelemetryID(ctx context.Context) (string, error)

	// Submit hands the payload over and returns its ping id. It does not wait
	// for network delivery to be confirmed beyond what the transport does.
	Submit(ctx context.Context, bucket string, p *Payload) (string, error)

	// PingSize returns the byte length of what Submit would send for p.
	PingSize(bucket string, p *Payload) (int, error)
}

// Document is what a Transport delivers: the serialized body plus routing metadata.
type Document struct {
	ID          string
	Bucket      string
	ClientID    string
	SubmittedAt time.Time
	Body        json.RawMessage
}

// Transport moves documents somewhere durable (an ingestion endpoint, a
// Redis stream, ...).
type Transport interface {
	Deliver(ctx context.Context, doc Document) error
}

// PlainPipeline submits payloads as-is.
type PlainPipeline struct {
	clientID  string
	transport Transport
	now       func() time.Time
}

// NewPlainPipeline creates a pipeline for clientID over transport.
func NewPlainPipeline(clientID string, transport Transport) *PlainPipeline {
	if transport == nil {
		panic("telemetry: transport cannot be nil")
	}
	return &PlainPipeline{clientID: clientID, transport: transport, now: time.Now}
}

func (p *PlainPipeline) Name() string { return "plain" }

func (p *PlainPipeline) TelemetryID(context.Context) (string, error) {
	return p.clientID, nil
}

func (p *PlainPipeline) Submit(ctx context.Context, bucket string, payload *Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode ping: %w", err)
	}
	return p.deliver(ctx, bucket, body)
}

func (p *PlainPipeline) PingSize(_ string, payload *Payload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode ping: %w", err)
	}
	return len(body), nil
}

func (p *PlainPipeline) deliver(ctx context.Context, bucket string, body []byte) (string, error) {
	doc := Document{
		ID:          uuid.NewString(),
		Bucket:      bucket,
		ClientID:    p.clientID,
		SubmittedAt: p.now().UTC(),
		Body:        body,
	}
	if err := p.transport.Deliver(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to deliver ping %s: %w", doc.ID, err)
	}
	return doc.ID, nil
}

// EncryptedBody is the wire shape of an encrypted (pioneer) ping.
type EncryptedBody struct {
	EncryptedData   string `json:"encryptedData"`
	EncryptionKeyID string `json:"encryptionKeyId"`
	PioneerID       string `json:"pioneerId"`
	StudyName       string `json:"studyName"`
	SchemaName      string `json:"schemaName"`
	SchemaVersion   int    `json:"schemaVersion"`
}

// EncryptedPipeline encrypts each payload to an age recipient before delivery.
// Only the holder of the matching identity can read the data.
type EncryptedPipeline struct {
	plain     *PlainPipeline
	recipient age.Recipient
	keyID     string
	pioneerID string
}

// NewEncryptedPipeline parses an X25519 recipient ("age1...") and wraps transport.
func NewEncryptedPipeline(clientID string, transport Transport, recipient, keyID, pioneerID string) (*EncryptedPipeline, error) {
	r, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption recipient: %w", err)
	}
	return NewEncryptedPipelineWithRecipient(clientID, transport, r, keyID, pioneerID), nil
}

// NewEncryptedPipelineWithRecipient uses an already parsed recipient.
func NewEncryptedPipelineWithRecipient(clientID string, transport Transport, r age.Recipient, keyID, pioneerID string) *EncryptedPipeline {
	if pioneerID == "" {
		pioneerID = clientID
	}
	return &EncryptedPipeline{
		plain:     NewPlainPipeline(clientID, transport),
		recipient: r,
		keyID:     keyID,
		pioneerID: pioneerID,
	}
}

func (p *EncryptedPipeline) Name() string { return "encrypted" }

func (p *EncryptedPipeline) TelemetryID(ctx context.Context) (string, error) {
	return p.plain.TelemetryID(ctx)
}

func (p *EncryptedPipeline) Submit(ctx context.Context, bucket string, payload *Payload) (string, error) {
	body, err := p.seal(bucket, payload)
	if err != nil {
		return "", err
	}
	return p.plain.deliver(ctx, bucket, body)
}

func (p *EncryptedPipeline) PingSize(bucket string, payload *Payload) (int, error) {
	body, err := p.seal(bucket, payload)
	if err != nil {
		return 0, err
	}
	return len(body), nil
}

func (p *EncryptedPipeline) seal(bucket string, payload *Payload) ([]byte, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ping: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, p.recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("failed to encrypt ping: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish encryption: %w", err)
	}

	body, err := json.Marshal(EncryptedBody{
		EncryptedData:   base64.StdEncoding.EncodeToString(sealed.Bytes()),
		EncryptionKeyID: p.keyID,
		PioneerID:       p.pioneerID,
		StudyName:       payload.StudyName,
		SchemaName:      bucket,
		SchemaVersion:   PacketVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode encrypted ping: %w", err)
	}
	return body, nil
}
