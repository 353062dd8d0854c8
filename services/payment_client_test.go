package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"challenge-platform/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/verify", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, alice, req["user_id"])
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPaymentClientVerify(t *testing.T) {
	ctx := context.Background()

	ok := paymentServer(t, http.StatusOK, `{"valid": true}`)
	require.NoError(t, services.NewPaymentClient(ok.URL, "svc-token", nil).Verify(ctx, alice, "tok"))

	declined := paymentServer(t, http.StatusOK, `{"valid": false, "reason": "card_declined"}`)
	err := services.NewPaymentClient(declined.URL, "svc-token", nil).Verify(ctx, alice, "tok")
	assert.ErrorIs(t, err, services.ErrInvalidPaymentMethod)

	rejected := paymentServer(t, http.StatusUnprocessableEntity, `{}`)
	err = services.NewPaymentClient(rejected.URL, "svc-token", nil).Verify(ctx, alice, "tok")
	assert.ErrorIs(t, err, services.ErrInvalidPaymentMethod)

	broken := paymentServer(t, http.StatusBadGateway, `upstream`)
	err = services.NewPaymentClient(broken.URL, "svc-token", nil).Verify(ctx, alice, "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrInvalidPaymentMethod)
}
