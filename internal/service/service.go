package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"adledger/internal/ledger"
	"adledger/internal/model"
	"adledger/internal/store"

	"github.com/rs/zerolog"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrForbiddenState   = errors.New("operation not allowed in current campaign status")
	ErrInvalidCampaign  = errors.New("invalid campaign")
	ErrInvalidRequest   = errors.New("invalid request")
)

// UserLocker serializes ledger writers of one user across instances.
type UserLocker interface {
	LockUser(ctx context.Context, userID int64) (unlock func(), err error)
}

// Topics names the outbox destinations.
type Topics struct {
	CampaignEvents  string
	LedgerEvents    string
	LedgerIncidents string
}

// Options holds the knobs shared by the services.
type Options struct {
	Topics Topics

	// StoreTimeout bounds the detached re-read and compensation calls that
	// run after the request context may already be gone.
	StoreTimeout time.Duration

	MaxTargetCount int
	ReconcileGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Topics.CampaignEvents == "" {
		o.Topics.CampaignEvents = "campaign_events"
	}
	if o.Topics.LedgerEvents == "" {
		o.Topics.LedgerEvents = "ledger_events"
	}
	if o.Topics.LedgerIncidents == "" {
		o.Topics.LedgerIncidents = "ledger_incidents"
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.MaxTargetCount <= 0 {
		o.MaxTargetCount = 50
	}
	if o.ReconcileGrace <= 0 {
		o.ReconcileGrace = 10 * time.Minute
	}
	return o
}

// detached returns a context that survives cancellation of ctx but is still
// bounded by timeout.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func newEvent(topic string, key int64, event string, payload map[string]interface{}) *model.OutboxMessage {
	body := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["event"] = event
	body["occurred_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	// map of primitives; Marshal cannot fail
	raw, _ := json.Marshal(body)
	return &model.OutboxMessage{
		Event:      event,
		MessageKey: strconv.FormatInt(key, 10),
		Topic:      topic,
		Payload:    string(raw),
		Status:     model.OutboxStatusPending,
	}
}

// isDomainError reports errors whose outcome is known: nothing was written.
func isDomainError(err error) bool {
	return errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrAlreadyReserved) ||
		errors.Is(err, ledger.ErrInconsistentLedger) ||
		errors.Is(err, store.ErrConcurrentModification) ||
		errors.Is(err, ErrInvalidRequest)
}

// withRetry runs fn again once when the store reports a lost race.
func withRetry(logger zerolog.Logger, userID int64, fn func() error) error {
	err := fn()
	if errors.Is(err, store.ErrConcurrentModification) {
		logger.Warn().Int64("user_id", userID).Msg("ledger write lost a race, retrying once")
		err = fn()
	}
	return err
}

// Incident describes ledger drift that needs manual reconciliation.
type Incident struct {
	Kind       string
	UserID     int64
	CampaignID int64
	Amount     int64
	PointsHeld int64
	CreditHeld int64
	Err        error
}

// IncidentReporter logs at error level and records a ledger.incident outbox
// message so the drift reaches an operator even if logs are lost.
type IncidentReporter struct {
	outbox  store.OutboxStore
	topic   string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewIncidentReporter(outbox store.OutboxStore, topic string, timeout time.Duration, logger zerolog.Logger) *IncidentReporter {
	return &IncidentReporter{outbox: outbox, topic: topic, timeout: timeout, logger: logger}
}

func (r *IncidentReporter) Report(ctx context.Context, inc Incident) {
	r.logger.Error().
		Err(inc.Err).
		Str("incident", inc.Kind).
		Int64("user_id", inc.UserID).
		Int64("campaign_id", inc.CampaignID).
		Int64("amount", inc.Amount).
		Int64("points_held", inc.PointsHeld).
		Int64("credit_held", inc.CreditHeld).
		Msg("ledger incident, manual reconciliation required")

	detail := ""
	if inc.Err != nil {
		detail = inc.Err.Error()
	}
	msg := newEvent(r.topic, inc.CampaignID, model.EventLedgerIncident, map[string]interface{}{
		"incident":    inc.Kind,
		"user_id":     inc.UserID,
		"campaign_id": inc.CampaignID,
		"amount":      inc.Amount,
		"points_held": inc.PointsHeld,
		"credit_held": inc.CreditHeld,
		"detail":      detail,
	})

	writeCtx, cancel := detached(ctx, r.timeout)
	defer cancel()
	if err := r.outbox.Enqueue(writeCtx, msg); err != nil {
		r.logger.Error().Err(err).Int64("campaign_id", inc.CampaignID).Msg("failed to record ledger incident")
	}
}
