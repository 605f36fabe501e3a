package middleware

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-bap/internal/beckn"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/signing"
	"mobility-bap/pkg/requestcontext"
)

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := signing.NewSigner("bpp.example.com", "k1", priv)
	require.NoError(t, err)
	verifier := signing.NewVerifier(nil, signing.WithSelfKey(pub))
	m := metrics.New(prometheus.NewRegistry())

	var (
		gotBody       []byte
		gotSubscriber string
	)
	h := VerifySignature(verifier, m, slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSubscriber = requestcontext.NetworkSubscriber(r.Context())
		WriteAck(w, http.StatusOK, beckn.NewACK())
	}))

	body := []byte(`{"context":{"action":"on_search"},"message":{}}`)

	t.Run("valid signature passes the exact body through", func(t *testing.T) {
		header, err := signer.Sign(body)
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodPost, "/on_search", bytes.NewReader(body))
		r.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, body, gotBody)
		assert.Equal(t, "bpp.example.com", gotSubscriber)
	})

	t.Run("tampered body is rejected with NACK", func(t *testing.T) {
		header, err := signer.Sign(body)
		require.NoError(t, err)
		tampered := bytes.Replace(body, []byte("on_search"), []byte("on_select"), 1)
		r := httptest.NewRequest(http.MethodPost, "/on_search", bytes.NewReader(tampered))
		r.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		var ack beckn.AckResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
		assert.Equal(t, beckn.StatusNACK, ack.Message.Ack.Status)
		assert.Equal(t, string(signing.CodeSignatureInvalid), ack.Error.Code)
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/on_search", bytes.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SignatureFailures.WithLabelValues(string(signing.CodeMalformedHeader))))
	})
}

type failingVerifier struct{ err error }

func (f failingVerifier) Verify(context.Context, string, []byte) (signing.Header, error) {
	return signing.Header{}, f.err
}

func TestVerifySignatureRegistryOutage(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	called := false
	h := VerifySignature(failingVerifier{err: errors.New("registry unreachable")}, m, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }),
	)

	r := httptest.NewRequest(http.MethodPost, "/on_search", bytes.NewReader([]byte(`{}`)))
	r.Header.Set("Authorization", "Signature anything")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var ack beckn.AckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, beckn.StatusNACK, ack.Message.Ack.Status)
	assert.Equal(t, "CORE-ERROR", ack.Error.Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignatureFailures.WithLabelValues("registry_unavailable")))
	assert.Zero(t, testutil.ToFloat64(m.SignatureFailures.WithLabelValues(string(signing.CodeSignatureInvalid))))
}
