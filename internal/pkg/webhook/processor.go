package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/tiktel/ttelgo/app/models"
	"github.com/tiktel/ttelgo/internal/pkg/order"
)

// Stripe metadata values distinguishing what a payment intent paid for.
const (
	PaymentTypeB2COrder    = "B2C_ORDER"
	PaymentTypeVendorTopup = "VENDOR_TOPUP"
)

// Orders is the slice of the order state machine the processor drives.
type Orders interface {
	Transition(reference string, event order.Event, p order.TransitionPayload) (*models.Order, error)
	GetByID(id uint) (*models.Order, error)
}

// Ledger is the slice of the vendor ledger the processor posts to. Top-up
// credits are keyed by payment id so a re-run after a partial failure posts
// at most once.
type Ledger interface {
	PostTopUpCredit(vendorID uint, amount decimal.Decimal, currency string, paymentID uint, description, actor string) (*models.LedgerEntry, error)
}

// Payments is the payment-row store the processor mutates as processor
// events arrive.
type Payments interface {
	GetByIntentID(intentID string) (*models.Payment, error)
	Save(p *models.Payment) error
}

// Processor interprets stored webhook events against a fixed dispatch table
// and drives the order state machine and the vendor ledger. Event-level
// dedup happens at ingestion; the transitions themselves are additionally
// idempotent and ledger credits are keyed by payment, which covers a crash
// between a committed side effect and the processed flag, and out-of-order
// redelivery.
type Processor struct {
	repo     Repository
	orders   Orders
	ledger   Ledger
	payments Payments
	now      nowFunc
}

// NewProcessor creates a webhook processor from injected dependencies.
func NewProcessor(repo Repository, orders Orders, ledger Ledger, payments Payments) *Processor {
	return &Processor{
		repo:     repo,
		orders:   orders,
		ledger:   ledger,
		payments: payments,
		now:      time.Now,
	}
}

// outcome carries the ids an event resolved to, for audit linkage.
type outcome struct {
	orderID   *uint
	paymentID *uint
	note      string
}

// ProcessEvent runs one stored event through the dispatch table. Success
// flips processed=true; failure records the attempt and leaves the event
// for the retry sweep. An order.ErrInvalidTransition is a retry-later
// signal (out-of-order delivery), never surfaced as a client error.
func (p *Processor) ProcessEvent(id uint) error {
	e, err := p.repo.GetEvent(id)
	if err != nil {
		return err
	}
	if e.Processed {
		return nil
	}

	out, herr := p.dispatch(e)
	if herr != nil {
		if recErr := p.repo.RecordFailure(e.ID, herr.Error(), p.now()); recErr != nil {
			return recErr
		}
		return herr
	}
	return p.repo.MarkProcessed(e.ID, out.orderID, out.paymentID, out.note, p.now())
}

// ProcessRetryEligible is the sweep entrypoint: it re-runs unprocessed
// events still within the attempt budget and reports how many succeeded.
func (p *Processor) ProcessRetryEligible(limit int) (processed int, failed int) {
	events, err := p.repo.ListRetryEligible(models.WebhookMaxProcessingAttempts, limit)
	if err != nil {
		return 0, 0
	}
	for _, e := range events {
		if err := p.ProcessEvent(e.ID); err != nil {
			failed++
			continue
		}
		processed++
	}
	return processed, failed
}

func (p *Processor) dispatch(e *models.WebhookEvent) (*outcome, error) {
	switch e.Source {
	case models.WebhookSourceStripe:
		switch e.EventType {
		case "payment_intent.succeeded":
			return p.handlePaymentIntentSucceeded(e)
		case "payment_intent.payment_failed":
			return p.handlePaymentIntentFailed(e)
		case "charge.refunded":
			return p.handleChargeRefunded(e)
		}
	case models.WebhookSourceEsimgo:
		switch e.EventType {
		case "order.completed":
			return p.handleEsimgoOrderCompleted(e)
		case "order.failed":
			return p.handleEsimgoOrderFailed(e)
		}
	}
	// Unhandled types are acknowledged and shelved, not retried forever.
	return &outcome{note: "ignored: unhandled event type " + e.EventType}, nil
}

func (p *Processor) handlePaymentIntentSucceeded(e *models.WebhookEvent) (*outcome, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal([]byte(e.PayloadJSON), &pi); err != nil {
		return nil, fmt.Errorf("webhook: malformed payment_intent payload: %w", err)
	}

	out := &outcome{}
	if pm, err := p.payments.GetByIntentID(pi.ID); err == nil {
		if pm.Status.CanTransitionTo(models.PaymentStatusSucceeded) {
			now := p.now()
			pm.Status = models.PaymentStatusSucceeded
			pm.PaidAt = &now
			if pi.LatestCharge != nil {
				pm.ChargeID = pi.LatestCharge.ID
			}
			if err := p.payments.Save(pm); err != nil {
				return nil, err
			}
		}
		out.paymentID = &pm.ID
	}

	switch pi.Metadata["type"] {
	case PaymentTypeVendorTopup:
		vendorID, err := parseUintMeta(pi.Metadata, "vendor_id")
		if err != nil {
			return nil, err
		}
		if out.paymentID == nil {
			// The credit is keyed by the payment row; without it the event
			// retries until the row is visible.
			return nil, fmt.Errorf("webhook: no payment row for top-up intent %s", pi.ID)
		}
		amount := decimal.New(pi.Amount, -2)
		desc := "wallet top-up via card payment " + pi.ID
		if _, err := p.ledger.PostTopUpCredit(vendorID, amount, string(pi.Currency), *out.paymentID, desc, "system"); err != nil {
			return nil, err
		}
		return out, nil
	default:
		reference := pi.Metadata["order_reference"]
		if reference == "" {
			return nil, errors.New("webhook: payment intent carries no order_reference")
		}
		o, err := p.orders.Transition(reference, order.EventPaymentSucceeded, order.TransitionPayload{})
		if err != nil {
			return nil, err
		}
		out.orderID = &o.ID
		return out, nil
	}
}

func (p *Processor) handlePaymentIntentFailed(e *models.WebhookEvent) (*outcome, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal([]byte(e.PayloadJSON), &pi); err != nil {
		return nil, fmt.Errorf("webhook: malformed payment_intent payload: %w", err)
	}

	reason := ""
	if pi.LastPaymentError != nil {
		reason = pi.LastPaymentError.Msg
	}

	out := &outcome{}
	if pm, err := p.payments.GetByIntentID(pi.ID); err == nil {
		if pm.Status.CanTransitionTo(models.PaymentStatusFailed) {
			pm.Status = models.PaymentStatusFailed
			pm.FailureReason = reason
			if err := p.payments.Save(pm); err != nil {
				return nil, err
			}
		}
		out.paymentID = &pm.ID
	}

	reference := pi.Metadata["order_reference"]
	if reference == "" {
		// Top-up failures end at the payment row; no order to move.
		return out, nil
	}
	o, err := p.orders.Transition(reference, order.EventPaymentFailed, order.TransitionPayload{
		ErrorCode:    "PAYMENT_FAILED",
		ErrorMessage: reason,
	})
	if err != nil {
		return nil, err
	}
	out.orderID = &o.ID
	return out, nil
}

func (p *Processor) handleChargeRefunded(e *models.WebhookEvent) (*outcome, error) {
	var ch stripe.Charge
	if err := json.Unmarshal([]byte(e.PayloadJSON), &ch); err != nil {
		return nil, fmt.Errorf("webhook: malformed charge payload: %w", err)
	}
	if ch.PaymentIntent == nil {
		return nil, errors.New("webhook: refunded charge carries no payment intent")
	}

	pm, err := p.payments.GetByIntentID(ch.PaymentIntent.ID)
	if err != nil {
		return nil, err
	}

	refunded := decimal.New(ch.AmountRefunded, -2)
	pm.RefundedAmount = refunded
	target := models.PaymentStatusPartiallyRefunded
	if refunded.GreaterThanOrEqual(pm.Amount) {
		target = models.PaymentStatusRefunded
	}
	if pm.Status.CanTransitionTo(target) {
		pm.Status = target
	}
	if err := p.payments.Save(pm); err != nil {
		return nil, err
	}

	out := &outcome{paymentID: &pm.ID}
	if pm.OrderID != nil && target == models.PaymentStatusRefunded {
		o, err := p.orders.GetByID(*pm.OrderID)
		if err != nil {
			return nil, err
		}
		moved, err := p.orders.Transition(o.OrderReference, order.EventRefund, order.TransitionPayload{Actor: "system"})
		if err != nil {
			return nil, err
		}
		out.orderID = &moved.ID
	}
	return out, nil
}

// esimgoEventPayload is the provisioning vendor's webhook body.
type esimgoEventPayload struct {
	OrderReference string `json:"order_reference"`
	EsimgoOrderID  string `json:"esimgo_order_id"`
	ICCID          string `json:"iccid"`
	MatchingID     string `json:"matching_id"`
	SmdpAddress    string `json:"smdp_address"`
	ActivationCode string `json:"activation_code"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	Permanent      bool   `json:"permanent"`
}

func (p *Processor) handleEsimgoOrderCompleted(e *models.WebhookEvent) (*outcome, error) {
	var payload esimgoEventPayload
	if err := json.Unmarshal([]byte(e.PayloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("webhook: malformed esimgo payload: %w", err)
	}
	if payload.OrderReference == "" {
		return nil, errors.New("webhook: esimgo event carries no order_reference")
	}

	o, err := p.orders.Transition(payload.OrderReference, order.EventProvisioningSucceeded, order.TransitionPayload{
		EsimgoOrderID:  payload.EsimgoOrderID,
		ICCID:          payload.ICCID,
		MatchingID:     payload.MatchingID,
		SmdpAddress:    payload.SmdpAddress,
		ActivationCode: payload.ActivationCode,
	})
	if err != nil {
		return nil, err
	}
	return &outcome{orderID: &o.ID}, nil
}

func (p *Processor) handleEsimgoOrderFailed(e *models.WebhookEvent) (*outcome, error) {
	var payload esimgoEventPayload
	if err := json.Unmarshal([]byte(e.PayloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("webhook: malformed esimgo payload: %w", err)
	}
	if payload.OrderReference == "" {
		return nil, errors.New("webhook: esimgo event carries no order_reference")
	}

	errorCode := payload.ErrorCode
	if errorCode == "" {
		errorCode = "PROVISIONING_ERROR"
	}
	o, err := p.orders.Transition(payload.OrderReference, order.EventProvisioningFailed, order.TransitionPayload{
		ErrorCode:    errorCode,
		ErrorMessage: payload.ErrorMessage,
		Permanent:    payload.Permanent,
		Actor:        "system",
	})
	if err != nil {
		return nil, err
	}
	return &outcome{orderID: &o.ID}, nil
}

func parseUintMeta(meta map[string]string, key string) (uint, error) {
	raw := meta[key]
	if raw == "" {
		return 0, fmt.Errorf("webhook: metadata %s missing", key)
	}
	var v uint
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("webhook: metadata %s is not numeric: %w", key, err)
	}
	return v, nil
}
