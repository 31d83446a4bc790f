// Package dispatch applies the effects of completed flow runs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
	"github.com/dukex/convoflow/pkg/whatsapp"
	"github.com/google/uuid"
)

const (
	defaultSendRetries  = 3
	defaultDrainLimit   = 100
	defaultInitialDelay = 500 * time.Millisecond
)

// Target is the recipient of an effect list. When Key is set, every effect
// is marked in the ledger under Key and its index before it is applied, and
// effects already marked are skipped. A retried event therefore resumes
// where the previous attempt stopped.
type Target struct {
	OwnerID       string
	PhoneNumberID string
	Contact       *models.Contact
	FlowID        string
	Key           string
}

// EffectKey scopes the effects of one event to one flow, or to the chatbot
// when flowID is empty.
func EffectKey(eventID, flowID string) string {
	if flowID == "" {
		return "effects:" + eventID + ":chatbot"
	}

	return "effects:" + eventID + ":" + flowID
}

func (t Target) effectKey(index int) string {
	if t.Key == "" {
		return ""
	}

	return t.Key + ":" + strconv.Itoa(index)
}

// Report summarizes one Dispatch call.
type Report struct {
	Sent        int
	Failed      int
	Applied     int
	Skipped     int
	ScheduledAt *time.Time
}

// Dispatcher consumes the ordered effects of a completed run. Effects that
// follow a future DelayUntil are persisted and released by DrainDue.
type Dispatcher struct {
	sender      whatsapp.Sender
	accounts    persistence.AccountRepository
	contacts    persistence.ContactRepository
	messages    persistence.MessageRepository
	scheduled   persistence.ScheduledEffectRepository
	ledger      persistence.Ledger
	logger      *slog.Logger
	now         func() time.Time
	newBackOff  func() backoff.BackOff
	sendRetries uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the clock used for delays and timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithBackOff overrides the send retry policy.
func WithBackOff(newBackOff func() backoff.BackOff, retries uint64) Option {
	return func(d *Dispatcher) {
		d.newBackOff = newBackOff
		d.sendRetries = retries
	}
}

// WithLedger replaces the ledger of the store used to mark applied effects.
func WithLedger(ledger persistence.Ledger) Option {
	return func(d *Dispatcher) {
		d.ledger = ledger
	}
}

func New(logger *slog.Logger, sender whatsapp.Sender, store persistence.Persistence, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender:      sender,
		accounts:    store.Accounts(),
		contacts:    store.Contacts(),
		messages:    store.Messages(),
		scheduled:   store.ScheduledEffects(),
		ledger:      store.Ledger(),
		logger:      logger.With("module", "dispatcher"),
		now:         func() time.Time { return time.Now().UTC() },
		newBackOff:  sendBackOff,
		sendRetries: defaultSendRetries,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func sendBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultInitialDelay
	b.MaxElapsedTime = 30 * time.Second

	return b
}

// Dispatch applies effects in order. A send that keeps failing is recorded as
// a failed outbound message and does not stop the remaining effects. Errors
// are storage failures; the effect that failed is left unmarked so a retry
// applies it.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, effects []models.Effect) (Report, error) {
	var report Report

	logger := d.logger.With("owner_id", target.OwnerID, "contact_id", target.Contact.ID, "flow_id", target.FlowID)

	for i, effect := range effects {
		key := target.effectKey(i)
		if key != "" {
			isNew, err := d.ledger.MarkIfNew(ctx, key)
			if err != nil {
				return report, fmt.Errorf("failed to mark effect %d: %w", i, err)
			}

			if !isNew {
				report.Skipped++

				// A DelayUntil keeps its mark only once the rest was scheduled.
				if delay, ok := effect.(models.DelayUntil); ok {
					until := delay.Until
					report.ScheduledAt = &until

					return report, nil
				}

				continue
			}
		}

		scheduled, err := d.apply(ctx, logger, target, effects, i, &report)
		if err != nil {
			d.release(ctx, logger, key)

			return report, err
		}

		if scheduled {
			return report, nil
		}

		if _, ok := effect.(models.DelayUntil); ok {
			d.release(ctx, logger, key)
		}
	}

	return report, nil
}

// apply runs effects[i] and reports whether the rest of the list was
// scheduled for later.
func (d *Dispatcher) apply(
	ctx context.Context,
	logger *slog.Logger,
	target Target,
	effects []models.Effect,
	i int,
	report *Report,
) (bool, error) {
	switch e := effects[i].(type) {
	case models.SendMessage:
		if d.send(ctx, logger, target, e.Text) {
			report.Sent++
		} else {
			report.Failed++
		}
	case models.SetVariable:
		err := d.contacts.SetVariable(ctx, target.Contact.ID, e.Name, e.Value)
		if err != nil {
			return false, fmt.Errorf("failed to set variable %s: %w", e.Name, err)
		}

		report.Applied++
	case models.AddTag:
		err := d.contacts.AddTag(ctx, target.Contact.ID, e.Tag)
		if err != nil {
			return false, fmt.Errorf("failed to add tag %s: %w", e.Tag, err)
		}

		report.Applied++
	case models.DelayUntil:
		if !e.Until.After(d.now()) {
			return false, nil
		}

		err := d.schedule(ctx, target, e.Until, effects[i+1:])
		if err != nil {
			return false, err
		}

		until := e.Until
		report.ScheduledAt = &until

		logger.InfoContext(ctx, "Effects delayed", "until", until, "remaining", len(effects)-i-1)

		return true, nil
	default:
		return false, fmt.Errorf("%w: %T", models.ErrUnknownEffectType, effects[i])
	}

	return false, nil
}

func (d *Dispatcher) release(ctx context.Context, logger *slog.Logger, key string) {
	if key == "" {
		return
	}

	err := d.ledger.Release(ctx, key)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to release effect mark", "key", key, "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, logger *slog.Logger, target Target, text string) bool {
	var providerID string

	operation := func() error {
		id, err := d.sender.SendText(ctx, target.PhoneNumberID, target.Contact.Phone, text)
		if err != nil {
			if whatsapp.IsPermanent(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		providerID = id

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), d.sendRetries), ctx)
	sendErr := backoff.Retry(operation, policy)

	now := d.now()
	message := &models.Message{
		ID:                uuid.NewString(),
		OwnerID:           target.OwnerID,
		ContactID:         target.Contact.ID,
		ProviderMessageID: providerID,
		Direction:         models.DirectionOutbound,
		Body:              text,
		Status:            models.DeliveryStatusSent,
		FlowID:            target.FlowID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if sendErr != nil {
		logger.ErrorContext(ctx, "Failed to send message", "error", sendErr)

		message.ProviderMessageID = ""
		message.Status = models.DeliveryStatusFailed
		message.Error = sendErr.Error()
	}

	// The provider call already happened; failing here would resend on retry.
	_, err := d.messages.Save(ctx, message)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save outbound message", "provider_message_id", message.ProviderMessageID, "error", err)
	}

	return sendErr == nil
}

func (d *Dispatcher) schedule(ctx context.Context, target Target, until time.Time, remaining []models.Effect) error {
	if len(remaining) == 0 {
		return nil
	}

	batch := &models.ScheduledEffects{
		ID:        uuid.NewString(),
		OwnerID:   target.OwnerID,
		ContactID: target.Contact.ID,
		FlowID:    target.FlowID,
		DueAt:     until,
		Effects:   remaining,
		CreatedAt: d.now(),
	}

	err := d.scheduled.Save(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to schedule effects: %w", err)
	}

	return nil
}

// DrainDue claims due delayed batches and dispatches them. A claimed batch is
// completed even when dispatching it fails, so no batch runs twice.
func (d *Dispatcher) DrainDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultDrainLimit
	}

	batches, err := d.scheduled.ClaimDue(ctx, d.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due effects: %w", err)
	}

	var errs []error

	for _, batch := range batches {
		err := d.dispatchBatch(ctx, batch)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to dispatch delayed effects", "batch_id", batch.ID, "error", err)
			errs = append(errs, err)
		}

		err = d.scheduled.Complete(ctx, batch.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to complete batch %s: %w", batch.ID, err))
		}
	}

	if len(batches) > 0 {
		d.logger.InfoContext(ctx, "Drained delayed effects", "batches", len(batches))
	}

	return len(batches), errors.Join(errs...)
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, batch *models.ScheduledEffects) error {
	contact, err := d.contacts.ByID(ctx, batch.ContactID)
	if err != nil {
		return fmt.Errorf("failed to load contact: %w", err)
	}

	account, err := d.accounts.ByID(ctx, batch.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}

	_, err = d.Dispatch(ctx, Target{
		OwnerID:       batch.OwnerID,
		PhoneNumberID: account.PhoneNumberID,
		Contact:       contact,
		FlowID:        batch.FlowID,
	}, batch.Effects)

	return err
}
