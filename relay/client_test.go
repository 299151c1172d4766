package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPost(t *testing.T) {
	var received Envelope

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	envelope := Envelope{
		EventType: "customer.subscription.updated",
		StripeData: &SubscriptionData{
			SubscriptionID: "sub_123",
			CustomerID:     "cus_123",
			Status:         "active",
			SubjectID:      "did:user:alice",
		},
	}

	err := NewClient(srv.URL).Post(context.Background(), envelope)
	require.NoError(t, err)
	assert.Equal(t, envelope, received)
}

func TestClientPostServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Post(context.Background(), Envelope{EventType: "x"})
	assert.Error(t, err)
}

func TestClientPostUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	err := NewClient(srv.URL).Post(context.Background(), Envelope{EventType: "x"})
	assert.Error(t, err)
}
