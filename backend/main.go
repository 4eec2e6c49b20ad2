package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"cafepos/m/internal/api"
	"cafepos/m/internal/cart"
	"cafepos/m/internal/catalog"
	"cafepos/m/internal/config"
	"cafepos/m/internal/database"
	"cafepos/m/internal/events"
	"cafepos/m/internal/logger"
	"cafepos/m/internal/loyalty"
	"cafepos/m/internal/migrations"
	"cafepos/m/internal/order"
	"cafepos/m/internal/seed"
	"cafepos/m/internal/voucher"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	lg.Info("database connected", zap.String("action", logger.ActionDBConnected), zap.String("driver", cfg.DatabaseDriver))

	if err := migrations.Run(db); err != nil {
		return err
	}
	lg.Info("migrations applied", zap.String("action", logger.ActionMigrationsDone))
	seed.LoadMenu(db, cfg.MenuSeedPath, lg)

	var carts cart.Store = cart.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			lg.Warn("redis unavailable, keeping carts in memory", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			carts = cart.NewRedisStore(rdb)
		}
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL)
		if err != nil {
			lg.Warn("amqp unavailable, order events disabled", zap.Error(err))
		} else {
			defer amqpPub.Close()
			pub = amqpPub
		}
	}

	ledger := loyalty.NewLedger(db, lg)
	opts := []order.Option{order.WithPublisher(pub)}
	if cfg.LoyaltyEarnRate > 0 {
		opts = append(opts, order.WithEarnRate(cfg.LoyaltyEarnRate))
	}

	handler := api.New(api.Deps{
		DB:             db,
		Secret:         cfg.Secret,
		Log:            lg,
		Catalog:        catalog.NewService(catalog.NewRepository(db)),
		Ledger:         ledger,
		Orders:         order.NewService(db, ledger, lg, opts...),
		Vouchers:       voucher.NewService(db, lg),
		Carts:          carts,
		ShopName:       cfg.ShopName,
		ReceiptWidth:   cfg.ReceiptWidth,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(handler.Router(), "cafe-pos"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("cafe POS server starting", zap.String("action", logger.ActionServiceStarted), zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("shutting down", zap.String("action", logger.ActionGracefulShutdown))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
