package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/infra/supabase"
)

func TestPostgresLedger(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	ledger := NewPostgresLedger(sqlx.NewDb(mockDB, "sqlmock"))

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("stripe", "evt_1", "payment_intent.succeeded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("stripe", "evt_1", "payment_intent.succeeded", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	dup, err := ledger.Record(context.Background(), "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = ledger.Record(context.Background(), "stripe", "evt_1", "payment_intent.succeeded")
	require.NoError(t, err)
	assert.True(t, dup)

	mock.ExpectExec("DELETE FROM webhook_events").
		WithArgs("stripe", "evt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, ledger.Forget(context.Background(), "stripe", "evt_1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSupabaseLedger(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/webhook_events" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{}]`))
	}))
	defer srv.Close()

	client, err := supabase.New(supabase.Config{ProjectURL: srv.URL, ServiceKey: "k"})
	require.NoError(t, err)
	ledger := NewSupabaseLedger(client)

	dup, err := ledger.Record(context.Background(), "stripe", "evt_1", "account.updated")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = ledger.Record(context.Background(), "stripe", "evt_1", "account.updated")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestMemoryLedger(t *testing.T) {
	l := NewMemoryLedger()
	dup, _ := l.Record(context.Background(), "discord", "1", "")
	assert.False(t, dup)
	dup, _ = l.Record(context.Background(), "discord", "1", "")
	assert.True(t, dup)
	dup, _ = l.Record(context.Background(), "stripe", "1", "")
	assert.False(t, dup)

	require.NoError(t, l.Forget(context.Background(), "discord", "1"))
	dup, _ = l.Record(context.Background(), "discord", "1", "")
	assert.False(t, dup)
}
