package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tillpoint/config"
	httpapi "tillpoint/internal/api/http"
	"tillpoint/internal/backend"
	"tillpoint/internal/cart"
	"tillpoint/internal/events"
	"tillpoint/internal/menu"
	"tillpoint/internal/receiptqr"
	"tillpoint/internal/receipts"
	"tillpoint/internal/settlement"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.RestaurantID == "" {
		logrus.Fatal("TILL_RESTAURANT_ID is required")
	}

	client := backend.New(cfg.BackendURL)
	if cfg.Username != "" {
		result, err := client.Login(context.Background(), cfg.Username, cfg.Password)
		if err != nil {
			logrus.WithError(err).Fatal("login failed")
		}
		logrus.WithField("user", result.User.Username).Info("signed in")
	} else {
		logrus.Warn("no credentials configured, running unauthenticated")
	}

	var menuCache menu.Cache
	if cfg.RedisAddr != "" {
		menuCache = menu.NewRedisCache(config.MustInitRedis(cfg.RedisAddr), 7*24*time.Hour)
	} else {
		logrus.Warn("no redis configured, menu falls back straight to the demo set when offline")
	}
	menuSvc := menu.NewService(client, menuCache, cfg.RestaurantID)

	var publisher settlement.Publisher
	if cfg.KafkaBroker != "" {
		writer := config.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic)
		defer writer.Close()
		publisher = events.NewKafkaPublisher(writer)
	}

	tillCart := cart.New(cfg.TaxRateBp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poller := receipts.NewPoller(client, cfg.RestaurantID, cfg.PollInterval, func() {
		// network came back: the menu may be stale or demo-sourced
		menuSvc.Refresh(ctx)
	})

	settlements := settlement.NewService(client, publisher, cfg.TaxRateBp, func(orderID string, fromCart bool) {
		// only the cart's own settlement clears it; paying off an old
		// receipt must not touch an order being rung up
		if fromCart {
			tillCart.Reset()
		}
		// settled orders drop out of the pending list right away
		go poller.Refresh(context.Background(), true)
	})

	menuSvc.Refresh(ctx)
	go poller.Run(ctx)

	handler := &httpapi.Handler{
		Cart:           tillCart,
		Menu:           menuSvc,
		Settlements:    settlements,
		Receipts:       poller,
		Upstream:       client,
		QR:             receiptqr.New(cfg.ReceiptBaseURL),
		RestaurantID:   cfg.RestaurantID,
		CurrencySymbol: cfg.CurrencySymbol,
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("till service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown was not clean")
	}
	if err := client.Logout(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("could not revoke session")
	}
}
