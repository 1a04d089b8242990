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
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"

	"booking-calendar-api/internal/booking"
	"booking-calendar-api/internal/calendar"
	"booking-calendar-api/internal/config"
	"booking-calendar-api/internal/handler"
	"booking-calendar-api/internal/middleware"
	"booking-calendar-api/internal/oauth"
	"booking-calendar-api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// database
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatalf("db ping: %v", err)
	}
	log.Println("connected to postgres")

	// run migrations
	if migration, err := os.ReadFile(cfg.MigrationsPath); err != nil {
		log.Printf("migration file not found, skipping: %v", err)
	} else if _, err := pool.Exec(context.Background(), string(migration)); err != nil {
		log.Printf("migration warning: %v", err)
	} else {
		log.Println("migration applied")
	}

	st := store.New(pool)

	syncer, err := calendar.NewSynchronizer(cfg.CalendarTimeZone, cfg.CalendarTimeout)
	if err != nil {
		log.Fatalf("calendar time zone %q: %v", cfg.CalendarTimeZone, err)
	}
	if !cfg.GoogleEnabled() {
		log.Println("GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, calendar linking disabled")
	}
	google := oauth.NewManager(st, oauth.Options{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		StateSecret:  cfg.JWTSecret,
		Timeout:      cfg.CalendarTimeout,
	})
	bookings := booking.NewService(st, google, syncer)

	h := handler.New(st, st, bookings, google, syncer, handler.Config{
		Secret:      cfg.JWTSecret,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		FrontendURL: cfg.FrontendURL,
		Secure:      cfg.SecureCookies,
	})

	rl := middleware.NewRateLimiter(5, 10)
	defer rl.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Router(rl),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		log.Printf("http on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
