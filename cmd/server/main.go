package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"mobility-bap/internal/audit"
	audithandler "mobility-bap/internal/audit/handler"
	auditkafka "mobility-bap/internal/audit/kafka"
	auditmemory "mobility-bap/internal/audit/store/memory"
	auditpostgres "mobility-bap/internal/audit/store/postgres"
	"mobility-bap/internal/beckn"
	"mobility-bap/internal/grievance"
	grievancehandler "mobility-bap/internal/grievance/handler"
	jwttoken "mobility-bap/internal/jwt_token"
	"mobility-bap/internal/network"
	"mobility-bap/internal/notify"
	"mobility-bap/internal/platform/config"
	"mobility-bap/internal/platform/httpserver"
	"mobility-bap/internal/platform/logger"
	"mobility-bap/internal/platform/metrics"
	"mobility-bap/internal/platform/postgres"
	platformredis "mobility-bap/internal/platform/redis"
	"mobility-bap/internal/platform/worker"
	"mobility-bap/internal/recon"
	reconhandler "mobility-bap/internal/recon/handler"
	"mobility-bap/internal/registry"
	"mobility-bap/internal/registry/cache"
	"mobility-bap/internal/signing"
	txnhandler "mobility-bap/internal/transaction/handler"
	"mobility-bap/internal/transaction/service"
	txnstore "mobility-bap/internal/transaction/store"
	httptransport "mobility-bap/internal/transport/http"
	"mobility-bap/internal/transport/http/shared"
	"mobility-bap/pkg/platform/circuit"
	authmw "mobility-bap/pkg/platform/middleware/auth"
)

const (
	shutdownTimeout  = 10 * time.Second
	eventBufferSize  = 64
	auditPartitions  = 3
	auditReplication = 1
)

// main wires the buyer app: stores, network identity, the booking engine and
// the HTTP surfaces. Business logic lives in the internal feature packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	transactions service.Store
	audit        audit.Store
	grievances   grievance.Store
	settlements  recon.Store
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	health := map[string]httptransport.HealthCheck{}

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		health["postgres"] = db.PingContext
	}
	st := newStores(db)

	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var expirerOpts []service.ExpirerOption
	var keyBackend cache.Backend = cache.NewMemory()
	var broker notify.Broker = notify.NewMemoryBroker(eventBufferSize)
	if rdb != nil {
		defer rdb.Close()
		health["redis"] = rdb.Health
		keyBackend = cache.NewRedis(rdb.Client)
		broker = notify.NewRedisBroker(rdb.Client, eventBufferSize, log)
		expirerOpts = append(expirerOpts, service.WithLease(platformredis.NewLease(rdb)))
		log.Info("redis enabled for key cache and events")
	}

	// Queued tasks must outlive the signal so Stop can drain them.
	pool := worker.New(cfg.Worker.Count, cfg.Worker.QueueSize, log)
	pool.Start(context.WithoutCancel(ctx))

	auditOpts := []audit.Option{audit.WithLogger(log), audit.WithMetrics(m)}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := auditkafka.New(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return fmt.Errorf("create audit sink: %w", err)
		}
		defer sink.Close(context.Background())
		if err := sink.EnsureTopic(ctx, auditPartitions, auditReplication); err != nil {
			log.Warn("audit topic not ensured", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		auditOpts = append(auditOpts, audit.WithSink(sink))
	}
	auditSvc := audit.NewService(st.audit, pool, auditOpts...)

	signer, publicKey, err := newSigner(cfg, log)
	if err != nil {
		return err
	}
	registryClient := registry.New(cfg.Registry.URL,
		registry.Scope{Domain: cfg.Network.Domain, City: cfg.Network.City, Country: cfg.Network.Country},
		registry.WithSigner(signer),
		registry.WithGatewayURL(cfg.Registry.GatewayURL),
		registry.WithKeyBackend(keyBackend, cfg.Registry.CacheTTL),
		registry.WithLogger(log),
	)
	var verifierOpts []signing.VerifierOption
	if cfg.Registry.LookupDisabled || cfg.Mock.Enabled {
		verifierOpts = append(verifierOpts, signing.WithSelfKey(publicKey))
		log.Warn("registry lookup disabled; callbacks are verified against our own key")
	}
	verifier := signing.NewVerifier(registryClient, verifierOpts...)
	clientOpts := []network.Option{network.WithMetrics(m), network.WithLogger(log)}
	if cfg.Network.BreakerFailures > 0 {
		clientOpts = append(clientOpts, network.WithCircuitBreaker(
			circuit.WithFailureThreshold(cfg.Network.BreakerFailures),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(cfg.Network.BreakerCooldown),
		))
	}
	client := network.New(signer, clientOpts...)

	participant := beckn.Participant{
		SubscriberID:  cfg.Network.SubscriberID,
		SubscriberURI: cfg.Network.SubscriberURI,
		Domain:        cfg.Network.Domain,
		Country:       cfg.Network.Country,
		City:          cfg.Network.City,
		CoreVersion:   cfg.Network.CoreVersion,
	}

	txnOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAudit(auditSvc),
		service.WithPublisher(broker),
		service.WithScheduler(pool),
	}
	grievanceOpts := []grievance.Option{
		grievance.WithLogger(log),
		grievance.WithMetrics(m),
		grievance.WithAudit(auditSvc),
		grievance.WithPublisher(broker),
		grievance.WithScheduler(pool),
	}
	if cfg.Mock.Enabled {
		provider := beckn.Counterparty{
			ID:  "mock-bpp." + strings.ToLower(cfg.Network.SubscriberID),
			URI: strings.TrimRight(cfg.Network.SubscriberURI, "/") + "/mock",
		}
		txnOpts = append(txnOpts, service.WithMockResponder(service.NewMockResponder(provider), cfg.Mock.CallbackDelay))
		grievanceOpts = append(grievanceOpts, grievance.WithMockResponses(cfg.Mock.CallbackDelay))
		log.Info("mock mode enabled; provider callbacks are synthesized locally", "provider", provider.ID)
	}
	txnSvc := service.New(st.transactions, client, registryClient, participant, txnOpts...)
	grievanceSvc := grievance.New(st.grievances, txnSvc, client, participant, grievanceOpts...)
	reconSvc := recon.New(st.settlements, recon.WithLogger(log), recon.WithMetrics(m))

	callbacks := shared.Callbacks{
		Audit:         auditSvc,
		SubscriberURI: cfg.Network.SubscriberURI,
		Logger:        log,
	}
	router := httptransport.NewRouter(httptransport.Config{
		Logger:     log,
		Metrics:    m,
		Gatherer:   reg,
		Verifier:   verifier,
		JWT:        newJWTValidator(cfg, log),
		AdminToken: cfg.AdminToken,
		Features: []httptransport.Feature{
			txnhandler.New(txnSvc, broker, callbacks, log),
			grievancehandler.New(grievanceSvc, callbacks, log),
			reconhandler.New(reconSvc, callbacks, log),
		},
		Operators: []httptransport.Operator{
			audithandler.New(auditSvc, log),
		},
		Health: health,
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting mobility-bap", "addr", cfg.Addr, "subscriber_id", cfg.Network.SubscriberID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if cfg.TransactionTTL > 0 {
		g.Go(func() error {
			return service.NewExpirer(txnSvc, cfg.TransactionTTL, log, expirerOpts...).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if err := pool.Stop(shutdownCtx); err != nil {
			log.Warn("worker pool did not drain", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	if cfg.URL == "" {
		log.Info("DATABASE_URL not set; using in-memory stores")
		return nil, nil
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			transactions: txnstore.NewInMemoryStore(),
			audit:        auditmemory.New(),
			grievances:   grievance.NewInMemoryStore(),
			settlements:  recon.NewInMemoryStore(),
		}
	}
	return stores{
		transactions: txnstore.NewPostgresStore(db),
		audit:        auditpostgres.New(db),
		grievances:   grievance.NewPostgresStore(db),
		settlements:  recon.NewPostgresStore(db),
	}
}

// newSigner loads the configured key pair. Without a private key an
// ephemeral pair is generated, which only makes sense offline.
func newSigner(cfg config.Server, log *slog.Logger) (*signing.Signer, ed25519.PublicKey, error) {
	privateEncoded := cfg.Network.SigningPrivateKey
	publicEncoded := cfg.Network.SigningPublicKey
	if privateEncoded == "" {
		pub, priv, err := signing.GenerateKeyPair()
		if err != nil {
			return nil, nil, fmt.Errorf("generate signing key: %w", err)
		}
		privateEncoded, publicEncoded = priv, pub
		log.Warn("BAP_SIGNING_PRIVATE_KEY not set; using an ephemeral key pair", "public_key", pub)
	}
	priv, err := signing.ParsePrivateKey(privateEncoded)
	if err != nil {
		return nil, nil, fmt.Errorf("signing private key: %w", err)
	}
	pub, _ := priv.Public().(ed25519.PublicKey)
	if publicEncoded != "" {
		parsed, err := signing.ParsePublicKey(publicEncoded)
		if err != nil {
			return nil, nil, fmt.Errorf("signing public key: %w", err)
		}
		pub = parsed
	}
	signer, err := signing.NewSigner(cfg.Network.SubscriberID, cfg.Network.KeyID, priv,
		signing.WithValidity(cfg.Network.SignatureValidity))
	if err != nil {
		return nil, nil, fmt.Errorf("create signer: %w", err)
	}
	return signer, pub, nil
}

func newJWTValidator(cfg config.Server, log *slog.Logger) authmw.JWTValidator {
	if cfg.ClientSecret == "" {
		log.Warn("CLIENT_JWT_SECRET not set; rider routes are unauthenticated")
		return nil
	}
	return jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.ClientSecret, cfg.JWTIssuer, cfg.JWTAudience))
}
