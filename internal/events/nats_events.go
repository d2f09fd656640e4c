// Package events publishes protocol events to NATS for downstream consumers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"grit-backend/internal/config"
	"grit-backend/internal/metrics"
)

const (
	SubjectDepositSettled     = "grit.bridge.deposit.settled"
	SubjectWithdrawAuthorized = "grit.treasury.withdraw.authorized"
	SubjectScarRecorded       = "grit.treasury.scar.recorded"
)

// DepositSettledEvent is published after a source deposit is minted and recorded.
type DepositSettledEvent struct {
	Signature    string `json:"signature"`
	Actor        string `json:"actor"`
	SourceAmount uint64 `json:"source_amount"`
	DestAmount   uint64 `json:"dest_amount"`
	DestTxHash   string `json:"dest_tx_hash"`
	SettledAt    int64  `json:"settled_at"`
}

// WithdrawAuthorizedEvent is published when the governor authorizes a request.
type WithdrawAuthorizedEvent struct {
	EntryID  string `json:"entry_id"`
	Actor    string `json:"actor"`
	Amount   uint64 `json:"amount"`
	BurnCost uint64 `json:"burn_cost"`
	IssuedAt int64  `json:"issued_at"`
}

// ScarRecordedEvent is published when a new burn record is appended.
type ScarRecordedEvent struct {
	Actor     string `json:"actor"`
	Amount    uint64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher wraps the NATS connection. A nil Publisher is safe to call:
// publishing is best-effort and never blocks the settlement path.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS using the configured reconnect policy.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS not configured")
	}

	timeout := 10 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(timeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Info("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	metrics.NATSConnectionStatus.Set(1)
	return &Publisher{conn: conn}, nil
}

// Publish marshals the payload and publishes it on the subject.
func (p *Publisher) Publish(subject string, payload interface{}) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("subject", subject).Error("failed to marshal event")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		logrus.WithError(err).WithField("subject", subject).Error("failed to publish event")
		return
	}
	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
