package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscordNotify(t *testing.T) {
	var received map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notif := NewDiscordNotifier(server.URL)
	require.NoError(t, notif.Notify(context.Background(), "✅ Download finished: abc"))
	require.Equal(t, "✅ Download finished: abc", received["content"])
}

func TestDiscordNotify_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	notif := NewDiscordNotifier(server.URL)
	require.ErrorContains(t, notif.Notify(context.Background(), "hello"), "status 429")
}

func TestDiscordNotify_MissingWebhook(t *testing.T) {
	notif := NewDiscordNotifier("")
	require.Error(t, notif.Notify(context.Background(), "hello"))
}
