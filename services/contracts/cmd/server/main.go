package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/accordsai/contractseal/pkg/anchor/rfc3161"
	"github.com/accordsai/contractseal/pkg/audit"
	"github.com/accordsai/contractseal/pkg/db"
	"github.com/accordsai/contractseal/pkg/did"
	"github.com/accordsai/contractseal/pkg/did/didkey"
	"github.com/accordsai/contractseal/pkg/did/didplc"
	"github.com/accordsai/contractseal/pkg/did/didweb"
	"github.com/accordsai/contractseal/pkg/ledger"
	"github.com/accordsai/contractseal/services/contracts/internal/config"
	"github.com/accordsai/contractseal/services/contracts/internal/idempotency"
	"github.com/accordsai/contractseal/services/contracts/internal/signing"
	"github.com/accordsai/contractseal/services/contracts/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := cfg.Logger("contracts")
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("connect database")
		}
		closers = append(closers, func() error { pool.Close(); return nil })
	}

	var st signing.Store
	if pool != nil {
		pg := store.NewPG(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("migrate contract store")
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL not set, contracts are kept in memory")
		st = store.NewMemory()
	}

	led, err := buildLedger(ctx, cfg, pool, log)
	if err != nil {
		log.WithError(err).Fatal("ledger")
	}

	resolver, closeResolver, err := buildResolver(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("did resolver")
	}
	closers = append(closers, closeResolver)

	sinks := audit.Multi{audit.NewLogSink(log)}
	if cfg.AuditJSONLPath != "" {
		js, err := audit.NewJSONLSink(cfg.AuditJSONLPath)
		if err != nil {
			log.WithError(err).Fatal("audit log")
		}
		sinks = append(sinks, js)
		closers = append(closers, js.Close)
	}
	if cfg.AuditWebhookURL != "" {
		hook, err := audit.NewWebhookSink(cfg.AuditWebhookURL, cfg.AuditWebhookKey, nil)
		if err != nil {
			log.WithError(err).Fatal("audit webhook")
		}
		sinks = append(sinks, hook)
	}

	svc := signing.New(signing.Options{
		Store:         st,
		Resolver:      resolver,
		Ledger:        led,
		Audit:         sinks,
		Logger:        log,
		LedgerTimeout: cfg.LedgerTimeout,
	})
	if n, err := svc.RetryLedger(ctx, ""); err != nil {
		log.WithError(err).WithField("recorded", n).Warn("parked ledger events still pending at startup")
	} else if n > 0 {
		log.WithField("recorded", n).Info("recorded ledger events parked before restart")
	}

	var idem idempotency.Store
	if pool != nil {
		pgIdem := idempotency.NewPG(pool, cfg.IdempotencyTTL)
		if err := pgIdem.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("migrate idempotency store")
		}
		stopSweep := idempotency.StartSweeper(cfg.IdempotencyTTL/4, func() {
			if _, err := pgIdem.Sweep(context.Background()); err != nil {
				log.WithError(err).Warn("sweep idempotency records")
			}
		})
		closers = append(closers, func() error { stopSweep(); return nil })
		idem = pgIdem
	} else {
		mem := idempotency.NewMemory(cfg.IdempotencyTTL)
		stopSweep := idempotency.StartSweeper(cfg.IdempotencyTTL/4, func() { mem.Sweep() })
		closers = append(closers, func() error { stopSweep(); return nil })
		idem = mem
	}
	a := &api{
		svc:      svc,
		resolver: resolver,
		idem:     idem,
		log:      log.WithField("component", "http"),
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}
	log.WithField("port", cfg.ServicePort).Info("contracts service listening")
	if err := serve(ctx, srv, ln, 15*time.Second, log); err != nil {
		log.WithError(err).Fatal("serve")
	}

	// Parked events are durable in the store; this only shortens the
	// window until the next start picks them up.
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.LedgerTimeout)
	if n, err := svc.RetryLedger(flushCtx, ""); err != nil {
		log.WithError(err).WithField("recorded", n).Warn("ledger events still pending at shutdown")
	}
	cancel()

	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, closers[i]())
	}
	if errs != nil {
		log.WithError(errs).Warn("close")
	}
}

// serve runs srv on ln until ctx is done. It returns only after Shutdown
// has drained in-flight requests or drain has passed, so callers can
// release what handlers use.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drain time.Duration, log *logrus.Entry) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

func buildLedger(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, log *logrus.Entry) (ledger.Client, error) {
	var led ledger.Client
	switch cfg.LedgerBackend {
	case "postgres":
		pl := ledger.NewPGLedger(pool)
		if err := pl.Migrate(ctx); err != nil {
			return nil, err
		}
		led = pl
	default:
		if cfg.LedgerDir == "" {
			led = ledger.NewLocalLedger()
			break
		}
		ll, err := ledger.NewLocalLedgerWithPath(cfg.LedgerDir)
		if err != nil {
			return nil, err
		}
		led = ll
	}
	if cfg.TSAURL == "" {
		return led, nil
	}
	anchored := ledger.NewAnchored(led, rfc3161.NewClient(cfg.TSAURL, cfg.TSAPolicyOID, &http.Client{Timeout: cfg.LedgerTimeout}), log)
	anchored.Strict = cfg.TSAStrict
	return anchored, nil
}

func buildResolver(cfg config.Config, log *logrus.Entry) (*did.MultiResolver, func() error, error) {
	r := did.NewMultiResolver(did.NewCache(cfg.DIDCacheTTL), log)
	r.Register(didkey.Method, didkey.New())

	webOpts := []didweb.Option{didweb.WithLogger(log)}
	if cfg.DIDWebInsecure {
		webOpts = append(webOpts, didweb.WithInsecureHTTP())
	}
	r.Register(didweb.Method, didweb.New(webOpts...))

	plc := didplc.NewClient(cfg.DIDPLCDirectory, didplc.WithLogger(log))
	r.Register(didplc.Method, plc)

	if cfg.DIDFixtures != "" {
		static, err := did.LoadFixtures(cfg.DIDFixtures)
		if err != nil {
			plc.Close()
			return nil, nil, err
		}
		builtin := map[string]bool{}
		for _, m := range r.Methods() {
			builtin[m] = true
		}
		for method, ids := range static.DIDs() {
			if builtin[method] {
				log.WithField("method", method).Warn("fixture DIDs ignored, method has a live resolver")
				continue
			}
			r.Register(method, static)
			log.WithFields(logrus.Fields{"method": method, "dids": len(ids)}).Info("registered fixture DIDs")
		}
	}
	return r, func() error { plc.Close(); return nil }, nil
}
