package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/events"
	"rollcall/internal/httpapi"
	"rollcall/internal/queue"
	"rollcall/internal/recognizer"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
	}, store.WithLocation(cfg.DateLocation))
	if err != nil {
		return err
	}
	defer st.Close()
	log.Printf("store backend: %s", cfg.StoreBackend)

	var (
		redisClient *store.Redis
		q           queue.Queue
	)
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, "")
	} else {
		// no separate worker in this mode, so handle events in-process
		mem := queue.NewInMemory(64)
		q = mem
		go func() {
			if err := events.Run(ctx, mem, events.Handler{}); err != nil {
				log.Printf("event loop: %v", err)
			}
		}()
	}

	face := recognizer.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if cfg.FaceSkip {
		log.Println("face service skipped, using mock descriptors")
	} else if err := face.Health(ctx); err != nil {
		log.Printf("WARNING: face service not available: %v", err)
	}

	matcher := attendance.NewMatcher(st, face.Distance, cfg.MatchThreshold)
	scanner := attendance.NewScanner(st, face, matcher, q, attendance.Options{
		Interval: cfg.ScanInterval,
		Debug:    cfg.ScanDebug,
	})

	r := httpapi.New(httpapi.Deps{
		Store:           st,
		Detector:        face,
		Matcher:         matcher,
		Scanner:         scanner,
		Redis:           redisClient,
		Face:            face,
		JWTIssuer:       cfg.JWTIssuer,
		JWTSigningKey:   cfg.JWTSigningKey,
		AccessTTL:       cfg.AccessTTL,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	// no request can start a session now; stop the running one before the store closes
	if sess, err := scanner.Stop(); err == nil {
		log.Printf("stopped scan session %s", sess.ID)
	}

	log.Println("server exited")
	return nil
}
