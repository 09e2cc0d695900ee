package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/farmlink/market-api/configs"
	httpapi "github.com/farmlink/market-api/internal/adapter/http"
	"github.com/farmlink/market-api/internal/adapter/http/middleware"
	"github.com/farmlink/market-api/internal/adapter/memstore"
	"github.com/farmlink/market-api/internal/adapter/notify"
	"github.com/farmlink/market-api/internal/adapter/payment"
	"github.com/farmlink/market-api/internal/adapter/repo"
	"github.com/farmlink/market-api/internal/logging"
	"github.com/farmlink/market-api/internal/security"
	"github.com/farmlink/market-api/internal/usecase"
)

const shutdownGrace = 15 * time.Second

type App struct {
	Router  *gin.Engine
	Server  *http.Server
	workers []func(ctx context.Context) error
	logger  *slog.Logger
}

// Run serves HTTP and the background consumers until ctx ends, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range a.workers {
		w := w
		g.Go(func() error {
			if err := w(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.Server.Shutdown(sctx)
	})
	return g.Wait()
}

type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

// run in reverse so producers flush before their connections close
func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, func(), error) {
	l := logging.New("bootstrap")
	var cl closers
	fail := func(err error) (*App, func(), error) {
		cl.close()
		return nil, nil, err
	}

	// init database
	var (
		store usecase.Store
		notes usecase.NotificationRepo
		ready []func(context.Context) error
	)
	switch cfg.Database.Driver {
	case "memory":
		mem := memstore.New()
		store, notes = mem.Usecase(), mem.Notifications()
		l.Warn("using in-memory store; data is lost on restart")
	default:
		pctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		db, err := repo.Open(pctx, repo.Dialect(cfg.Database.Driver), cfg.Database.DSN, repo.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			cancel()
			return fail(fmt.Errorf("open database: %w", err))
		}
		cl.add(func() { _ = db.Close() })
		if cfg.Database.Migrate {
			if err := db.Migrate(pctx); err != nil {
				cancel()
				return fail(fmt.Errorf("migrate: %w", err))
			}
		}
		cancel()
		store, notes = db.Store(), repo.NewNotificationRepo(db)
		ready = append(ready, db.Ping)
	}

	// payment gateway
	var gw usecase.PaymentGateway
	switch cfg.Payment.Provider {
	case "paystack":
		gw = payment.NewPaystack(payment.PaystackConfig{
			BaseURL:       cfg.Payment.BaseURL,
			SecretKey:     cfg.Payment.SecretKey,
			Timeout:       cfg.Payment.Timeout,
			RatePerSecond: cfg.Payment.RatePerSecond,
		})
	default:
		gw = payment.NewSandbox(cfg.Payment.CallbackURL)
		l.Warn("using sandbox payment gateway")
	}

	retry := usecase.RetryPolicy{MaxAttempts: cfg.Workflow.MaxAttempts, Backoff: cfg.Workflow.RetryBackoff}
	inbox := usecase.NewInbox(notes)
	fx := usecase.Effects{Notifier: notify.NewDirect(inbox)}
	var placeOpts []usecase.PlaceOrderOption
	if cfg.Payment.CallbackURL != "" {
		placeOpts = append(placeOpts, usecase.WithCallbackURL(cfg.Payment.CallbackURL))
	}
	var orderCache usecase.OrderCache
	var workers []func(context.Context) error

	// init redis
	if cfg.Redis.Addr != "" {
		rc, err := initRedis(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		cl.add(rc.close)
		placeOpts = append(placeOpts, usecase.WithIdempotency(rc.idem))
		orderCache = rc.cache
		fx.Cache = rc.cache
		ready = append(ready, rc.ping)
	}

	// init rabbitmq: notifications go through the broker and are persisted by the consumer
	if cfg.Rabbit.URL != "" {
		rb, err := initRabbit(cfg, inbox)
		if err != nil {
			return fail(err)
		}
		cl.add(rb.close)
		fx.Notifier = rb.notifier
		workers = append(workers, rb.start)
	}

	// init kafka: order events out, payment events through the topic
	var kb *kafkaBundle
	if len(cfg.Kafka.Brokers) > 0 {
		var err error
		if kb, err = initKafka(cfg); err != nil {
			return fail(err)
		}
		cl.add(kb.close)
		fx.Events = kb.orderEvents
	}

	verify := usecase.NewVerifyPayment(store, gw, retry, fx)
	events := usecase.NewPaymentEvents(verify, usecase.NewMarkPaymentFailed(store, gw, retry, fx))
	var paymentQueue usecase.PaymentEventQueue = events
	if kb != nil {
		paymentQueue = kb.paymentEvents
		workers = append(workers, kb.consumer(events.Handle))
	}

	// init handlers + routers + middleware
	errs := httpapi.ErrorWriter{Dev: cfg.IsDev()}
	timeout := cfg.HTTP.RequestTimeout
	tokens := security.NewTokens(security.TokenConfig{
		Secret:   cfg.Security.JWTSecret,
		Issuer:   cfg.Security.Issuer,
		Audience: cfg.Security.Audience,
		TTL:      cfg.Security.TTL,
	})

	queries := usecase.NewOrderQueries(store.Orders, orderCache)
	deps := httpapi.RouterDeps{
		Orders: httpapi.NewOrderHandler(
			usecase.NewPlaceOrder(store, gw, retry, fx, placeOpts...),
			verify,
			usecase.NewUpdateOrderStatus(store, retry, fx),
			queries,
			errs, timeout),
		Cart:          httpapi.NewCartHandler(usecase.NewCart(store, retry), errs, timeout),
		Products:      httpapi.NewProductHandler(usecase.NewCatalog(store, retry), errs, timeout),
		Notifications: httpapi.NewNotificationHandler(inbox, errs, timeout),
		Dashboard:     httpapi.NewDashboardHandler(usecase.NewFarmerDashboard(store.Products, queries), errs, timeout),
		Webhook:       httpapi.NewWebhookHandler(paymentQueue, errs, timeout),
		Authn:         middleware.NewAuthn(tokens),
		Signatures:    security.NewWebhookVerifier(cfg.Payment.SecretKey),
		Ready: func(ctx context.Context) error {
			for _, check := range ready {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Logger: logging.New("http"),
	}
	if cfg.IsDev() {
		deps.Tokens = httpapi.NewTokenHandler(tokens, errs)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(deps)

	srv := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	l.Info("market-api: started up",
		"driver", cfg.Database.Driver,
		"payment", cfg.Payment.Provider,
		"redis", cfg.Redis.Addr != "",
		"rabbitmq", cfg.Rabbit.URL != "",
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)
	return &App{Router: router, Server: srv, workers: workers, logger: l}, cl.close, nil
}
