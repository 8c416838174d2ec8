// Package payments wraps Stripe for marketplace payments and Connect payouts.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tidwall/gjson"
)

// ErrInvalidSignature is returned for webhook payloads that fail
// verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// PaymentIntentRequest describes a charge for a contract.
type PaymentIntentRequest struct {
	AmountCents   int64
	Currency      string
	ContractID    string
	ClientID      string
	TransferGroup string
	Description   string
}

// PaymentIntent is the subset of a Stripe PaymentIntent the API returns.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// TransferRequest moves a payout to a connected account.
type TransferRequest struct {
	AmountCents   int64
	Currency      string
	Destination   string
	ContractID    string
	TransferGroup string
}

// AccountStatus is the onboarding state of a connected account.
type AccountStatus struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// OnboardingComplete reports whether the account can receive payouts.
func (s AccountStatus) OnboardingComplete() bool {
	return s.DetailsSubmitted && s.PayoutsEnabled
}

// WebhookEvent is a verified Stripe event with the fields handlers use.
type WebhookEvent struct {
	ID       string
	Type     string
	ObjectID string
	Metadata map[string]string
	Amount   int64
	Account  AccountStatus
	Failure  string
}

// Gateway is the payment provider.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error)
	CreateConnectedAccount(ctx context.Context, userID, email string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// =============================================================================
// Stripe
// =============================================================================

// Stripe implements Gateway with stripe-go.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe creates a gateway. backends may be nil to use Stripe's API.
func NewStripe(secretKey, webhookSecret string, backends *stripe.Backends) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api, webhookSecret: webhookSecret}
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.AddMetadata("contract_id", req.ContractID)
	params.AddMetadata("client_id", req.ClientID)
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func (s *Stripe) CreateConnectedAccount(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID)
	params.Context = ctx

	acct, err := s.api.Accounts.New(params)
	if err != nil {
		return "", fmt.Errorf("create connected account: %w", err)
	}
	return acct.ID, nil
}

func (s *Stripe) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := s.api.AccountLinks.New(params)
	if err != nil {
		return "", fmt.Errorf("create account link: %w", err)
	}
	return link.URL, nil
}

func (s *Stripe) GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := s.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &AccountStatus{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (s *Stripe) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.AmountCents <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	if req.TransferGroup != "" {
		params.TransferGroup = stripe.String(req.TransferGroup)
	}
	params.AddMetadata("contract_id", req.ContractID)
	params.Context = ctx

	tr, err := s.api.Transfers.New(params)
	if err != nil {
		return "", fmt.Errorf("create transfer: %w", err)
	}
	return tr.ID, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the fields
// the marketplace reacts to.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}
	return eventFromObject(event.ID, string(event.Type), raw), nil
}

func eventFromObject(id, eventType string, object []byte) *WebhookEvent {
	obj := gjson.ParseBytes(object)
	ev := &WebhookEvent{
		ID:       id,
		Type:     eventType,
		ObjectID: obj.Get("id").String(),
		Amount:   obj.Get("amount").Int(),
		Metadata: make(map[string]string),
		Failure:  obj.Get("last_payment_error.message").String(),
		Account: AccountStatus{
			ID:               obj.Get("id").String(),
			ChargesEnabled:   obj.Get("charges_enabled").Bool(),
			PayoutsEnabled:   obj.Get("payouts_enabled").Bool(),
			DetailsSubmitted: obj.Get("details_submitted").Bool(),
		},
	}
	obj.Get("metadata").ForEach(func(key, value gjson.Result) bool {
		ev.Metadata[key.String()] = value.String()
		return true
	})
	return ev
}
