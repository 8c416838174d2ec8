package nexus

import (
	"context"
	"errors"
	"net/http"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/payments"
	"github.com/aethex/platform/services/nexus/supabase"
)

const (
	maxWebhookBody = 1 << 20
	stripeProvider = "stripe"
)

// Stripe event types the marketplace reacts to.
const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventAccountUpdated   = "account.updated"
)

// handleStripeWebhook verifies and applies a Stripe event. Redelivered
// events are acknowledged without being applied again.
func (s *Service) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		httputil.ServiceUnavailable(w, "payments are not configured")
		return
	}
	ctx := r.Context()
	log := s.logger.WithContext(ctx)

	payload, err := httputil.ReadAllStrict(r.Body, maxWebhookBody)
	if err != nil {
		httputil.BadRequest(w, "invalid webhook body")
		return
	}
	ev, err := s.payments.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			s.metrics.RecordWebhook(stripeProvider, "unknown", "rejected")
			s.logger.LogSecurityEvent(ctx, "stripe_webhook_invalid_signature", nil)
			httputil.BadRequest(w, "invalid signature")
			return
		}
		log.WithError(err).Error("parse stripe webhook failed")
		httputil.InternalError(w, "")
		return
	}
	log = log.WithField("stripe_event", ev.ID).WithField("stripe_event_type", ev.Type)

	duplicate, err := s.ledger.Record(ctx, stripeProvider, ev.ID, ev.Type)
	if err != nil {
		log.WithError(err).Error("record webhook event failed")
		httputil.InternalError(w, "")
		return
	}
	if duplicate {
		s.metrics.RecordWebhook(stripeProvider, ev.Type, "duplicate")
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"received": true, "duplicate": true})
		return
	}

	switch ev.Type {
	case eventPaymentSucceeded:
		err = s.onPaymentSucceeded(ctx, ev)
	case eventPaymentFailed:
		err = s.onPaymentFailed(ctx, ev)
	case eventAccountUpdated:
		err = s.onAccountUpdated(ctx, ev)
	default:
		s.metrics.RecordWebhook(stripeProvider, ev.Type, "ignored")
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err != nil {
		s.metrics.RecordWebhook(stripeProvider, ev.Type, "failed")
		log.WithError(err).Error("apply stripe event failed")
		if ferr := s.ledger.Forget(ctx, stripeProvider, ev.ID); ferr != nil {
			log.WithError(ferr).Error("forget webhook event failed")
		}
		httputil.WriteDBError(w, r, err, "payment")
		return
	}

	s.metrics.RecordWebhook(stripeProvider, ev.Type, "processed")
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// onPaymentSucceeded marks the payment paid and activates a pending contract.
// Unknown payment intents are ignored; they belong to other integrations.
func (s *Service) onPaymentSucceeded(ctx context.Context, ev *payments.WebhookEvent) error {
	payment, err := s.repo.SetPaymentStatus(ctx, ev.ObjectID, supabase.PaymentSucceeded, "")
	if err != nil {
		if supa.IsNotFound(err) {
			return nil
		}
		return err
	}
	s.metrics.RecordPayment(supabase.PaymentSucceeded)

	contract, err := s.repo.GetContract(ctx, payment.ContractID)
	if err != nil {
		return err
	}
	if contract.Status == ContractPending {
		active := ContractActive
		now := s.now()
		if _, err := s.repo.UpdateContract(ctx, contract.ID, supabase.ContractUpdate{Status: &active, UpdatedAt: &now}); err != nil {
			return err
		}
	}

	s.publish(ctx, events.New(events.NexusPaymentSucceeded, payment.ClientID, payment))
	return nil
}

func (s *Service) onPaymentFailed(ctx context.Context, ev *payments.WebhookEvent) error {
	reason := ev.Failure
	if reason == "" {
		reason = "payment failed"
	}
	payment, err := s.repo.SetPaymentStatus(ctx, ev.ObjectID, supabase.PaymentFailed, reason)
	if err != nil {
		if supa.IsNotFound(err) {
			return nil
		}
		return err
	}
	s.metrics.RecordPayment(supabase.PaymentFailed)
	s.publish(ctx, events.New(events.NexusPaymentFailed, payment.ClientID, payment))
	return nil
}

func (s *Service) onAccountUpdated(ctx context.Context, ev *payments.WebhookEvent) error {
	profile, err := s.repo.GetCreatorProfileByAccount(ctx, ev.Account.ID)
	if err != nil {
		if supa.IsNotFound(err) {
			return nil
		}
		return err
	}
	complete := ev.Account.OnboardingComplete()
	if profile.StripeOnboardingComplete == complete {
		return nil
	}
	profile.StripeOnboardingComplete = complete
	_, err = s.repo.UpsertCreatorProfile(ctx, profile)
	return err
}
