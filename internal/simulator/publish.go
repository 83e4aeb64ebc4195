package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/okian/guardian/internal/domain/model"
)

// Publisher delivers one batch of readings to the service.
type Publisher interface {
	// Publish returns how many records the service rejected, when known.
	Publish(ctx context.Context, recs []model.RawRecord) (int, error)
	Close()
}

type envelope struct {
	Readings []model.RawRecord `json:"readings"`
}

type ingestReport struct {
	Accepted int               `json:"accepted"`
	Rejected []json.RawMessage `json:"rejected"`
}

// HTTPPublisher posts batches to POST /readings.
type HTTPPublisher struct {
	client *http.Client
	url    string
}

// NewHTTPPublisher creates a publisher against baseURL.
func NewHTTPPublisher(baseURL string, timeout time.Duration) *HTTPPublisher {
	return &HTTPPublisher{client: &http.Client{Timeout: timeout}, url: baseURL + "/readings"}
}

// Publish posts recs as an envelope.
func (p *HTTPPublisher) Publish(ctx context.Context, recs []model.RawRecord) (int, error) {
	body, err := json.Marshal(envelope{Readings: recs})
	if err != nil {
		return 0, fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusUnprocessableEntity:
		var rep ingestReport
		if err := json.Unmarshal(data, &rep); err != nil {
			return 0, fmt.Errorf("parse report: %w", err)
		}
		return len(rep.Rejected), nil
	default:
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
}

// Close releases idle connections.
func (p *HTTPPublisher) Close() { p.client.CloseIdleConnections() }

// MQTTPublisher publishes batches to a broker topic.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTPublisher connects to broker.
func NewMQTTPublisher(broker, topic string, timeout time.Duration) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("guardian-sim-" + uuid.NewString()).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return &MQTTPublisher{client: client, topic: topic, timeout: timeout}, nil
}

// Publish sends recs as one message. Rejections are not reported back over MQTT.
func (p *MQTTPublisher) Publish(_ context.Context, recs []model.RawRecord) (int, error) {
	payload, err := json.Marshal(envelope{Readings: recs})
	if err != nil {
		return 0, fmt.Errorf("marshal batch: %w", err)
	}
	tok := p.client.Publish(p.topic, 1, false, payload)
	if !tok.WaitTimeout(p.timeout) {
		return 0, errors.New("mqtt publish timed out")
	}
	return 0, tok.Error()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() { p.client.Disconnect(250) }
