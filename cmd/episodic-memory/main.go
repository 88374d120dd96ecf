package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/bus"
	"github.com/loreforge/episodic-memory/internal/memory/cache"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
	"github.com/loreforge/episodic-memory/internal/memory/embedding"
	"github.com/loreforge/episodic-memory/internal/memory/extraction"
	"github.com/loreforge/episodic-memory/internal/memory/facade"
	"github.com/loreforge/episodic-memory/internal/memory/retrieval"
	"gopkg.in/yaml.v3"
)

func loadConfig(path string) *memory.Config {
	cfg := memory.DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[MAIN] config file not found at %s, using defaults", path)
		return cfg
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		log.Printf("[MAIN] failed to parse config at %s, using defaults: %v", path, err)
		return memory.DefaultConfig()
	}
	log.Printf("[MAIN] loaded configuration from %s", path)
	return cfg
}

func main() {
	configPath := flag.String("config", "configs/episodic-memory.yaml", "path to configuration file")
	httpPort := flag.Int("port", 8090, "HTTP API port")
	noBus := flag.Bool("no-bus", false, "disable the background job bus; run pattern extraction inline")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  episodic-memory - agent episodic memory engine")
	log.Println("===============================================")

	cfg := loadConfig(*configPath)

	dataDir := filepath.Dir(cfg.Database.SQLitePath)
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("[MAIN] failed to create data directory %s: %v", dataDir, err)
	}

	durableStore, err := durable.Open(cfg.Database.SQLitePath, cfg.Storage)
	if err != nil {
		log.Fatalf("[MAIN] failed to open durable store: %v", err)
	}
	defer durableStore.Close()
	log.Printf("[MAIN] durable store opened at %s", cfg.Database.SQLitePath)

	cacheTTL := time.Duration(cfg.Storage.CacheTTLSeconds) * time.Second
	cacheStore, err := cache.Open(cfg.Database.RedbPath, cfg.Storage.MaxEpisodesCache, cacheTTL)
	if err != nil {
		log.Fatalf("[MAIN] failed to open cache store: %v", err)
	}
	defer cacheStore.Close()
	log.Printf("[MAIN] cache store opened at %s (max %d episodes, ttl %s)", cfg.Database.RedbPath, cfg.Storage.MaxEpisodesCache, cacheTTL)

	var provider embedding.Provider
	if cfg.Embeddings.Enabled {
		switch cfg.Embeddings.Provider {
		case "http":
			baseURL := os.Getenv("EPISODIC_MEMORY_EMBEDDING_URL")
			if baseURL == "" {
				baseURL = "http://localhost:8081/v1"
			}
			timeout := time.Duration(cfg.Embeddings.TimeoutS) * time.Second
			provider = embedding.WrapCircuitBreaker(embedding.NewHTTPProvider(baseURL, cfg.Embeddings.Model, cfg.Embeddings.Dimension, timeout))
			log.Printf("[MAIN] embedding provider: http (url=%s, model=%s, dim=%d)", baseURL, cfg.Embeddings.Model, cfg.Embeddings.Dimension)
		default:
			provider = embedding.NewDeterministic(cfg.Embeddings.Dimension)
			log.Printf("[MAIN] embedding provider: deterministic (dim=%d)", cfg.Embeddings.Dimension)
		}
	} else {
		log.Println("[MAIN] embeddings disabled, retrieval ranking will degrade to recency/lexical order")
	}

	pipeline := retrieval.NewPipeline(durableStore, provider, cfg.Retrieval.DefaultK, cfg.Retrieval.DefaultLambda, cfg.Retrieval.DefaultAlpha)
	extractor := extraction.New(durableStore, extraction.DefaultConfig())

	var dispatcher *bus.Dispatcher
	var messageBus *bus.Bus
	if !*noBus {
		messageBus, err = bus.Start("episodic-memory")
		if err != nil {
			log.Fatalf("[MAIN] failed to start embedded job bus: %v", err)
		}
		defer messageBus.Close()
		log.Println("[MAIN] embedded job bus started")

		dispatcher, err = bus.NewDispatcher(messageBus, durableStore, extractor, 4, 64)
		if err != nil {
			log.Fatalf("[MAIN] failed to start extraction dispatcher: %v", err)
		}
		log.Println("[MAIN] extraction dispatcher started (4 workers)")
	} else {
		log.Println("[MAIN] job bus disabled, pattern extraction runs inline")
	}

	eng := facade.New(cfg, durableStore, cacheStore, pipeline, extractor, dispatcher)
	defer eng.Close()
	log.Println("[MAIN] memory engine initialized")

	capacityTicker := time.NewTicker(10 * time.Minute)
	defer capacityTicker.Stop()
	go func() {
		for range capacityTicker.C {
			demoted, err := eng.EnforceCapacity(context.Background())
			if err != nil {
				log.Printf("[MAIN] capacity enforcement failed: %v", err)
				continue
			}
			if demoted > 0 {
				log.Printf("[MAIN] capacity enforcement demoted %d episodes to summaries", demoted)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *httpPort),
		Handler: mux,
	}

	go func() {
		log.Printf("[MAIN] HTTP API starting on port %d", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] HTTP server error: %v", err)
		}
	}()

	log.Println("===============================================")
	log.Printf("  episodic-memory ready!")
	log.Printf("  Health: http://localhost:%d/health", *httpPort)
	log.Println("===============================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] HTTP server shutdown error: %v", err)
	}

	log.Println("[MAIN] episodic-memory shutdown complete")
}
