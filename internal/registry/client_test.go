package registry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"mobility-bap/internal/registry/cache"
	"mobility-bap/internal/signing"
	dErrors "mobility-bap/pkg/domain-errors"
)

type ClientSuite struct {
	suite.Suite
	server   *httptest.Server
	entries  []Entry
	status   int
	lookups  atomic.Int32
	mu       sync.Mutex
	lastAuth string
	lastReq  LookupRequest
	bppKey   ed25519.PublicKey
	signer   *signing.Signer
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.bppKey = pub

	_, bapPriv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.signer, err = signing.NewSigner("bap.example.com", "bap-key", bapPriv)
	s.Require().NoError(err)

	s.status = http.StatusOK
	s.lookups.Store(0)
	s.entries = []Entry{
		{
			SubscriberID:     "gateway.example.com",
			SubscriberURL:    "https://gateway.example.com/beckn",
			Type:             TypeGateway,
			Domain:           "ONDC:TRV10",
			SigningPublicKey: signing.EncodePublicKey(pub),
		},
		{
			SubscriberID:     "bpp.example.com",
			SubscriberURL:    "https://bpp.example.com/beckn",
			Type:             TypeBPP,
			Domain:           "ONDC:TRV10",
			UKID:             "bpp-key",
			SigningPublicKey: signing.EncodePublicKey(pub),
		},
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lookups.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastAuth = r.Header.Get("Authorization")
		s.lastReq = LookupRequest{}
		_ = json.NewDecoder(r.Body).Decode(&s.lastReq)
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		var out []Entry
		for _, e := range s.entries {
			if s.lastReq.Type != "" && e.Type != s.lastReq.Type {
				continue
			}
			if s.lastReq.SubscriberID != "" && e.SubscriberID != s.lastReq.SubscriberID {
				continue
			}
			out = append(out, e)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) newClient(opts ...Option) *Client {
	return New(s.server.URL, Scope{Domain: "ONDC:TRV10", City: "std:080", Country: "IND"}, opts...)
}

// =============================================================================
// Gateway resolution
// =============================================================================

func (s *ClientSuite) TestResolveGateway() {
	s.Run("static gateway wins without a lookup", func() {
		c := s.newClient(WithGatewayURL("https://static-gw.example.com"))
		got, err := c.ResolveGateway(context.Background())
		s.Require().NoError(err)
		s.Equal("https://static-gw.example.com", got)
		s.Zero(s.lookups.Load())
	})

	s.Run("looks up a BG entry", func() {
		c := s.newClient(WithSigner(s.signer))
		got, err := c.ResolveGateway(context.Background())
		s.Require().NoError(err)
		s.Equal("https://gateway.example.com/beckn", got)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.Equal(TypeGateway, s.lastReq.Type)
		s.Equal("std:080", s.lastReq.City)
		s.Contains(s.lastAuth, `keyId="bap.example.com|bap-key|ed25519"`)
	})

	s.Run("no gateway listed", func() {
		s.entries = s.entries[1:]
		_, err := s.newClient().ResolveGateway(context.Background())
		s.ErrorIs(err, ErrNoGatewayAvailable)
	})

	s.Run("no registry and no static gateway", func() {
		c := New("", Scope{})
		_, err := c.ResolveGateway(context.Background())
		s.ErrorIs(err, ErrNoGatewayAvailable)
	})
}

// =============================================================================
// Key resolution
// =============================================================================

func (s *ClientSuite) TestResolvePublicKey() {
	s.Run("known key", func() {
		pub, err := s.newClient().ResolvePublicKey(context.Background(), "bpp.example.com", "bpp-key")
		s.Require().NoError(err)
		s.Equal(s.bppKey, pub)
	})

	s.Run("unknown subscriber yields nil without error", func() {
		pub, err := s.newClient().ResolvePublicKey(context.Background(), "nobody.example.com", "k")
		s.Require().NoError(err)
		s.Nil(pub)
	})

	s.Run("lookup carries the node scope", func() {
		_, err := s.newClient().ResolvePublicKey(context.Background(), "bpp.example.com", "bpp-key")
		s.Require().NoError(err)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.Equal("bpp.example.com", s.lastReq.SubscriberID)
		s.Equal("bpp-key", s.lastReq.UKID)
		s.Equal("ONDC:TRV10", s.lastReq.Domain)
		s.Equal("std:080", s.lastReq.City)
		s.Equal("IND", s.lastReq.Country)
	})

	s.Run("mismatched key id yields nil", func() {
		pub, err := s.newClient().ResolvePublicKey(context.Background(), "bpp.example.com", "rotated")
		s.Require().NoError(err)
		s.Nil(pub)
	})

	s.Run("expired entries are ignored", func() {
		s.entries[1].ValidUntil = time.Now().Add(-time.Hour)
		defer func() { s.entries[1].ValidUntil = time.Time{} }()
		pub, err := s.newClient().ResolvePublicKey(context.Background(), "bpp.example.com", "bpp-key")
		s.Require().NoError(err)
		s.Nil(pub)
	})

	s.Run("registry failure is an upstream error", func() {
		s.status = http.StatusServiceUnavailable
		defer func() { s.status = http.StatusOK }()
		_, err := s.newClient().ResolvePublicKey(context.Background(), "bpp.example.com", "bpp-key")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
	})

	s.Run("cached keys skip the registry until refreshed", func() {
		s.lookups.Store(0)
		c := s.newClient(WithKeyBackend(cache.NewMemory(), time.Minute))
		for range 3 {
			pub, err := c.ResolvePublicKey(context.Background(), "bpp.example.com", "bpp-key")
			s.Require().NoError(err)
			s.Equal(s.bppKey, pub)
		}
		s.Equal(int32(1), s.lookups.Load())

		_, err := c.RefreshPublicKey(context.Background(), "bpp.example.com", "bpp-key")
		s.Require().NoError(err)
		s.Equal(int32(2), s.lookups.Load())
	})
}

func (s *ClientSuite) TestVerifierPicksUpRotatedKey() {
	ctx := context.Background()
	c := s.newClient(WithKeyBackend(cache.NewMemory(), time.Hour))
	cached, err := c.ResolvePublicKey(ctx, "bpp.example.com", "bpp-key")
	s.Require().NoError(err)
	s.Require().Equal(s.bppKey, cached)

	rotatedPub, rotatedPriv, err := ed25519.GenerateKey(rand.Reader)
	s.Require().NoError(err)
	s.mu.Lock()
	s.entries[1].SigningPublicKey = signing.EncodePublicKey(rotatedPub)
	s.mu.Unlock()

	bpp, err := signing.NewSigner("bpp.example.com", "bpp-key", rotatedPriv)
	s.Require().NoError(err)
	body := []byte(`{"context":{"action":"on_confirm"},"message":{}}`)
	header, err := bpp.Sign(body)
	s.Require().NoError(err)

	before := s.lookups.Load()
	verifier := signing.NewVerifier(c)
	h, err := verifier.Verify(ctx, header, body)
	s.Require().NoError(err)
	s.Equal("bpp.example.com", h.SubscriberID)
	s.Equal(before+1, s.lookups.Load())

	pub, err := c.ResolvePublicKey(ctx, "bpp.example.com", "bpp-key")
	s.Require().NoError(err)
	s.True(rotatedPub.Equal(pub), "cache holds the rotated key")
	s.Equal(before+1, s.lookups.Load())
}

func (s *ClientSuite) TestResolveSubscriber() {
	s.Run("returns entry", func() {
		e, err := s.newClient().ResolveSubscriber(context.Background(), "bpp.example.com")
		s.Require().NoError(err)
		s.Equal("https://bpp.example.com/beckn", e.SubscriberURL)
	})

	s.Run("unknown subscriber is not found", func() {
		_, err := s.newClient().ResolveSubscriber(context.Background(), "ghost.example.com")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestDecodeEntries(t *testing.T) {
	t.Run("wrapped message form", func(t *testing.T) {
		entries, err := decodeEntries([]byte(`{"message":[{"subscriber_id":"a","unique_key_id":"k"}]}`))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "k", entries[0].KeyID())
	})

	t.Run("empty body", func(t *testing.T) {
		entries, err := decodeEntries(nil)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := decodeEntries([]byte(`{nope`))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNoGatewayAvailable))
	})
}
