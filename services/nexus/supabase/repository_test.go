package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	supa "github.com/aethex/platform/infra/supabase"
)

func newRepoWithHandler(t *testing.T, handler http.HandlerFunc) *SupabaseRepository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := supa.New(supa.Config{ProjectURL: srv.URL, ServiceKey: "service-key"})
	require.NoError(t, err)
	return NewRepository(client)
}

func TestListContractsEitherParty(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/nexus_contracts", r.URL.Path)
		assert.Equal(t, "(client_id.eq.u1,creator_id.eq.u1)", r.URL.Query().Get("or"))
		assert.Equal(t, "eq.active", r.URL.Query().Get("status"))
		w.Header().Set("Content-Range", "0-1/2")
		_, _ = w.Write([]byte(`[{"id":"c1"},{"id":"c2"}]`))
	})

	rows, total, err := repo.ListContracts(context.Background(), ContractFilter{UserID: "u1", Status: "active", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)
}

func TestListContractsByRole(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("creator_id"))
		assert.Empty(t, r.URL.Query().Get("or"))
		_, _ = w.Write([]byte(`[]`))
	})

	rows, total, err := repo.ListContracts(context.Background(), ContractFilter{UserID: "u1", Role: "creator", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, rows)
}

func TestCreateApplicationDuplicate(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint \"nexus_applications_opportunity_id_creator_id_key\""}`))
	})

	_, err := repo.CreateApplication(context.Background(), &Application{OpportunityID: "o1", CreatorID: "u1", Status: "submitted"})
	assert.True(t, supa.IsUniqueViolation(err))
}

func TestFindSucceededPayment(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.c1", q.Get("contract_id"))
		assert.Equal(t, "eq.succeeded", q.Get("status"))
		assert.Equal(t, "1", q.Get("limit"))
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := repo.FindSucceededPayment(context.Background(), "c1")
	assert.True(t, supa.IsNotFound(err))
}

func TestUpsertCreatorProfileOnUserID(t *testing.T) {
	repo := newRepoWithHandler(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user_id", r.URL.Query().Get("on_conflict"))
		_, _ = w.Write([]byte(`[{"user_id":"u1","stripe_account_id":"acct_1","stripe_onboarding_complete":false}]`))
	})

	p, err := repo.UpsertCreatorProfile(context.Background(), &CreatorProfile{UserID: "u1", StripeAccountID: "acct_1"})
	require.NoError(t, err)
	assert.Equal(t, "acct_1", p.StripeAccountID)
}
