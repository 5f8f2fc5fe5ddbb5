// Package dispatch formats, rate-limits, and delivers alerts through an
// opaque notification sink, tracking delivery outcome in the ledger.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/yuin/goldmark"

	"github.com/jfkirchner/insiderwatch/internal/classify"
	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/ledger"
)

// Notifier is the opaque push-notification sink.
type Notifier interface {
	Name() string
	Send(ctx context.Context, title, htmlBody string, highPriority bool) error
}

// DeliveryResult is the terminal outcome of one alert delivery.
type DeliveryResult struct {
	AlertID  string
	Status   string // SENT, FAILED, SKIPPED
	Attempts int
	Err      error
}

var md = goldmark.New()

// Dispatcher renders and delivers alerts with bounded retries. A failed
// delivery is surfaced and recorded, never silently dropped and never
// requeued.
type Dispatcher struct {
	store       *ledger.Store
	notifier    Notifier
	maxAttempts int
	backoff     time.Duration
}

// New creates a Dispatcher.
func New(store *ledger.Store, notifier Notifier, cfg config.Dispatch) *Dispatcher {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	backoff := time.Duration(cfg.BackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Dispatcher{
		store:       store,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Dispatch records the alert in the ledger, then attempts delivery. The
// ledger row is written before the first attempt so that a crash
// mid-cycle never produces a duplicate alert on re-processing.
func (d *Dispatcher) Dispatch(ctx context.Context, alert classify.Alert) DeliveryResult {
	title := renderTitle(alert)
	body := renderBody(alert)

	inserted, err := d.store.InsertDispatch(ledger.Dispatch{
		ID:          alert.ID,
		Fingerprint: alert.Transaction.Fingerprint,
		AlertType:   string(alert.Type),
		Severity:    string(alert.Severity),
		Upgrade:     alert.Upgrade,
		Title:       &title,
		Body:        &body,
	})
	if err != nil {
		return DeliveryResult{AlertID: alert.ID, Status: "FAILED", Err: fmt.Errorf("recording dispatch: %w", err)}
	}
	if !inserted {
		// Slot already taken: this (fingerprint, type) was alerted in a
		// previous run of the same cycle.
		return DeliveryResult{AlertID: alert.ID, Status: "SKIPPED"}
	}

	html, err := renderHTML(body)
	if err != nil {
		// Markdown that fails to convert still ships as plain text.
		html = body
	}

	highPriority := alert.Severity == classify.SeverityHigh && !alert.LowConfidence

	attempts := 0
	var lastErr error
	for attempts < d.maxAttempts {
		attempts++

		lastErr = d.notifier.Send(ctx, title, html, highPriority)
		if lastErr == nil {
			if err := d.store.MarkDispatch(alert.ID, "SENT", attempts); err != nil {
				log.Printf("dispatch %s: delivered but not recorded: %v", alert.ID, err)
			}
			return DeliveryResult{AlertID: alert.ID, Status: "SENT", Attempts: attempts}
		}

		if attempts < d.maxAttempts {
			wait := d.backoff * (1 << (attempts - 1))
			log.Printf("dispatch %s: attempt %d failed (%v), retrying in %s", alert.ID, attempts, lastErr, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				attempts = d.maxAttempts
			}
		}
	}

	if err := d.store.MarkDispatch(alert.ID, "FAILED", attempts); err != nil {
		log.Printf("dispatch %s: failure not recorded: %v", alert.ID, err)
	}
	return DeliveryResult{AlertID: alert.ID, Status: "FAILED", Attempts: attempts, Err: lastErr}
}

// SendTest delivers a test notification outside the ledger bookkeeping.
func (d *Dispatcher) SendTest(ctx context.Context) error {
	body := "This is a test notification from insiderwatch. All systems operational."
	return d.notifier.Send(ctx, "insiderwatch test", body, false)
}

func renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LogNotifier writes alerts to the process log. Used when no push sink
// is configured so scan output is still visible.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Send(_ context.Context, title, htmlBody string, highPriority bool) error {
	priority := ""
	if highPriority {
		priority = " [high]"
	}
	log.Printf("ALERT%s %s\n%s", priority, title, htmlBody)
	return nil
}
