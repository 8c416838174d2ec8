package nexus

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	supa "github.com/aethex/platform/infra/supabase"
	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/httputil"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/payments"
	"github.com/aethex/platform/services/nexus/supabase"
)

// =============================================================================
// Contract Handlers
// =============================================================================

// handleCreateContract turns an accepted application into a contract. Only
// the opportunity owner can do this.
func (s *Service) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input CreateContractInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if err := input.validate(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	ctx := r.Context()

	app, err := s.repo.GetApplication(ctx, input.ApplicationID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "application")
		return
	}
	opp, err := s.repo.GetOpportunity(ctx, app.OpportunityID)
	if err != nil {
		httputil.WriteDBError(w, r, err, "opportunity")
		return
	}
	if opp.ClientID != userID {
		httputil.Forbidden(w, "only the opportunity owner can create a contract")
		return
	}
	if app.Status != ApplicationAccepted {
		httputil.BadRequest(w, "application must be accepted first")
		return
	}

	title := input.Title
	if title == "" {
		title = opp.Title
	}
	commission, payout := Split(input.TotalAmount, s.rate)
	contract, err := s.repo.CreateContract(ctx, &supabase.Contract{
		OpportunityID:    opp.ID,
		ApplicationID:    app.ID,
		ClientID:         opp.ClientID,
		CreatorID:        app.CreatorID,
		Title:            title,
		TotalAmount:      input.TotalAmount,
		CommissionAmount: commission,
		CreatorPayout:    payout,
		Status:           ContractPending,
		StartDate:        input.StartDate,
		EndDate:          input.EndDate,
	})
	if err != nil {
		if supa.IsUniqueViolation(err) {
			httputil.Conflict(w, "a contract already exists for this application")
			return
		}
		httputil.WriteDBError(w, r, err, "contract")
		return
	}

	inProgress := OpportunityInProgress
	now := s.now()
	if _, err := s.repo.UpdateOpportunity(ctx, opp.ID, supabase.OpportunityUpdate{Status: &inProgress, UpdatedAt: &now}); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("opportunity_id", opp.ID).Warn("mark opportunity in progress failed")
	}

	s.publish(ctx, events.New(events.NexusContractCreated, userID, contract))
	httputil.WriteJSON(w, http.StatusCreated, contract)
}

func (s *Service) handleListContracts(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, ok := httputil.RequirePagination(w, r)
	if !ok {
		return
	}
	role := strings.ToLower(r.URL.Query().Get("role"))
	if role != "" && role != "client" && role != "creator" {
		httputil.BadRequest(w, "role must be client or creator")
		return
	}

	rows, total, err := s.repo.ListContracts(r.Context(), supabase.ContractFilter{
		UserID: userID,
		Role:   role,
		Status: strings.ToLower(r.URL.Query().Get("status")),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		httputil.WriteDBError(w, r, err, "contracts")
		return
	}
	if rows == nil {
		rows = []supabase.Contract{}
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPage(rows, total, page))
}

// loadContract fetches the contract in the route and checks that the caller
// is one of its parties. Non-participants see 404.
func (s *Service) loadContract(w http.ResponseWriter, r *http.Request, userID string) (*supabase.Contract, bool) {
	contract, err := s.repo.GetContract(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteDBError(w, r, err, "contract")
		return nil, false
	}
	if contract.ClientID != userID && contract.CreatorID != userID {
		httputil.NotFound(w, "contract not found")
		return nil, false
	}
	return contract, true
}

func (s *Service) handleGetContract(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	contract, ok := s.loadContract(w, r, userID)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contract)
}

// handleUpdateContract moves a contract along its lifecycle. Only the client
// can complete a contract; completion releases the payout when the contract
// has been paid.
func (s *Service) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input StatusInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))

	contract, ok := s.loadContract(w, r, userID)
	if !ok {
		return
	}
	if !CanTransition(contract.Status, status) {
		httputil.BadRequest(w, "cannot move contract from "+contract.Status+" to "+status)
		return
	}
	if status == ContractCompleted && userID != contract.ClientID {
		httputil.Forbidden(w, "only the client can complete a contract")
		return
	}

	ctx := r.Context()
	now := s.now()
	update := supabase.ContractUpdate{Status: &status, UpdatedAt: &now}
	if status == ContractCompleted && contract.EndDate == nil {
		update.EndDate = &now
	}
	updated, err := s.repo.UpdateContract(ctx, contract.ID, update)
	if err != nil {
		httputil.WriteDBError(w, r, err, "contract")
		return
	}

	if status == ContractCompleted {
		if transferred := s.releasePayout(ctx, updated); transferred != nil {
			updated = transferred
		}
	}

	s.publish(ctx, events.New(events.NexusContractUpdated, userID, updated))
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// releasePayout transfers the creator payout of a completed contract. It
// returns the contract with its transfer ID, or nil when no transfer was
// made. Failures are logged; the completion itself stands.
func (s *Service) releasePayout(ctx context.Context, c *supabase.Contract) *supabase.Contract {
	log := s.logger.WithContext(ctx).WithField("contract_id", c.ID)
	if s.payments == nil || c.StripeTransferID != "" || c.CreatorPayout <= 0 {
		return nil
	}
	if _, err := s.repo.FindSucceededPayment(ctx, c.ID); err != nil {
		if !supa.IsNotFound(err) {
			log.WithError(err).Warn("look up contract payment failed")
		}
		return nil
	}
	creator, err := s.repo.GetCreatorProfile(ctx, c.CreatorID)
	if err != nil || creator.StripeAccountID == "" || !creator.StripeOnboardingComplete {
		log.Warn("creator has no payout account, transfer skipped")
		return nil
	}

	transferID, err := s.payments.CreateTransfer(ctx, payments.TransferRequest{
		AmountCents:   c.CreatorPayout,
		Currency:      s.currency,
		Destination:   creator.StripeAccountID,
		ContractID:    c.ID,
		TransferGroup: c.ID,
	})
	if err != nil {
		s.metrics.RecordPayment("transfer_failed")
		log.WithError(err).Error("payout transfer failed")
		return nil
	}
	s.metrics.RecordPayment("transferred")

	updated, err := s.repo.UpdateContract(ctx, c.ID, supabase.ContractUpdate{StripeTransferID: &transferID})
	if err != nil {
		log.WithError(err).WithField("transfer_id", transferID).Error("record transfer failed")
		return nil
	}
	return updated
}

// =============================================================================
// Payment Handlers
// =============================================================================

type paymentIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
}

func (s *Service) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if s.payments == nil {
		httputil.ServiceUnavailable(w, "payments are not configured")
		return
	}
	contract, ok := s.loadContract(w, r, userID)
	if !ok {
		return
	}
	if contract.ClientID != userID {
		httputil.Forbidden(w, "only the client can pay for a contract")
		return
	}
	if contract.Status != ContractPending && contract.Status != ContractActive {
		httputil.BadRequest(w, "contract is "+contract.Status)
		return
	}
	ctx := r.Context()
	if _, err := s.repo.FindSucceededPayment(ctx, contract.ID); err == nil {
		httputil.Conflict(w, "contract is already paid")
		return
	} else if !supa.IsNotFound(err) {
		httputil.WriteDBError(w, r, err, "payment")
		return
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, payments.PaymentIntentRequest{
		AmountCents:   contract.TotalAmount,
		Currency:      s.currency,
		ContractID:    contract.ID,
		ClientID:      userID,
		TransferGroup: contract.ID,
		Description:   "NEXUS contract: " + contract.Title,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("contract_id", contract.ID).Error("create payment intent failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "payment provider error", nil)
		return
	}

	if _, err := s.repo.CreatePayment(ctx, &supabase.Payment{
		ContractID:            contract.ID,
		ClientID:              userID,
		Amount:                contract.TotalAmount,
		Currency:              s.currency,
		StripePaymentIntentID: intent.ID,
		Status:                supabase.PaymentPending,
	}); err != nil {
		httputil.WriteDBError(w, r, err, "payment")
		return
	}
	s.metrics.RecordPayment(supabase.PaymentPending)

	httputil.WriteJSON(w, http.StatusCreated, paymentIntentResponse{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          contract.TotalAmount,
		Currency:        s.currency,
		Status:          intent.Status,
	})
}

// =============================================================================
// Stripe Connect Handlers
// =============================================================================

type connectStatusResponse struct {
	AccountID          string `json:"account_id"`
	OnboardingComplete bool   `json:"onboarding_complete"`
	ChargesEnabled     bool   `json:"charges_enabled"`
	PayoutsEnabled     bool   `json:"payouts_enabled"`
	DetailsSubmitted   bool   `json:"details_submitted"`
}

// handleStripeConnect creates the caller's Express account on first use and
// returns a fresh onboarding link.
func (s *Service) handleStripeConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if s.payments == nil {
		httputil.ServiceUnavailable(w, "payments are not configured")
		return
	}
	ctx := r.Context()
	log := s.logger.WithContext(ctx)

	profile, err := s.repo.GetCreatorProfile(ctx, userID)
	if err != nil && !supa.IsNotFound(err) {
		httputil.WriteDBError(w, r, err, "creator profile")
		return
	}
	if profile == nil {
		profile = &supabase.CreatorProfile{UserID: userID}
	}

	if profile.StripeAccountID == "" {
		email := ""
		if p, ok := middleware.PrincipalFrom(ctx); ok {
			email = p.Email
		}
		accountID, err := s.payments.CreateConnectedAccount(ctx, userID, email)
		if err != nil {
			log.WithError(err).Error("create connected account failed")
			httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "payment provider error", nil)
			return
		}
		profile.StripeAccountID = accountID
		profile.StripeOnboardingComplete = false
		if profile, err = s.repo.UpsertCreatorProfile(ctx, profile); err != nil {
			httputil.WriteDBError(w, r, err, "creator profile")
			return
		}
	}

	link, err := s.payments.CreateOnboardingLink(ctx, profile.StripeAccountID,
		s.appURL+"/nexus/stripe/refresh", s.appURL+"/nexus/stripe/return")
	if err != nil {
		log.WithError(err).Error("create onboarding link failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "payment provider error", nil)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"account_id": profile.StripeAccountID,
		"url":        link,
	})
}

// handleStripeConnectStatus refreshes the caller's onboarding state from
// Stripe.
func (s *Service) handleStripeConnectStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if s.payments == nil {
		httputil.ServiceUnavailable(w, "payments are not configured")
		return
	}
	ctx := r.Context()

	profile, err := s.repo.GetCreatorProfile(ctx, userID)
	if err != nil && !supa.IsNotFound(err) {
		httputil.WriteDBError(w, r, err, "creator profile")
		return
	}
	if profile == nil || profile.StripeAccountID == "" {
		httputil.NotFound(w, "no connected account")
		return
	}

	status, err := s.payments.GetAccountStatus(ctx, profile.StripeAccountID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("get account status failed")
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "PAYMENT_PROVIDER_ERROR", "payment provider error", nil)
		return
	}
	if complete := status.OnboardingComplete(); complete != profile.StripeOnboardingComplete {
		profile.StripeOnboardingComplete = complete
		if _, err := s.repo.UpsertCreatorProfile(ctx, profile); err != nil {
			httputil.WriteDBError(w, r, err, "creator profile")
			return
		}
	}

	httputil.WriteJSON(w, http.StatusOK, connectStatusResponse{
		AccountID:          profile.StripeAccountID,
		OnboardingComplete: status.OnboardingComplete(),
		ChargesEnabled:     status.ChargesEnabled,
		PayoutsEnabled:     status.PayoutsEnabled,
		DetailsSubmitted:   status.DetailsSubmitted,
	})
}
