package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"code-evolver/internal/config"
	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/internal/services"
	"code-evolver/pkg/models"
)

// Seeds a handful of tool artifacts so ranking and resilient invocation
// have something to work with on a fresh database.
func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configFile := flag.String("config", "", "Path to config file")
	reset := flag.Bool("reset", false, "Drop and recreate the artifacts table before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := repository.NewPool(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresArtifactStore(pool, logger)
	if err := store.EnsureSchema(ctx, *reset, cfg.Embedding.Dim); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	embedder := services.NewHTTPEmbeddingClient(cfg.Embedding.URL)
	artifacts := services.NewArtifactService(store, embedder, logger)

	tools := []services.StoreArtifactParams{
		{
			ID:          "send_email_v1",
			Type:        models.ArtifactTypeTool,
			Name:        "Send Email",
			Description: "Sends an email message to a recipient via SMTP.",
			Content:     "def send_email(to, subject, body): ...",
			Tags:        []string{"email", "messaging"},
			Metadata:    map[string]interface{}{"version": "1.0.0"},
		},
		{
			ID:          "fetch_url_v1",
			Type:        models.ArtifactTypeTool,
			Name:        "Fetch URL",
			Description: "Fetches the contents of a URL over HTTP and returns the response body.",
			Content:     "def fetch_url(url): ...",
			Tags:        []string{"http", "web"},
			Metadata:    map[string]interface{}{"version": "1.0.0"},
		},
		{
			ID:          "parse_csv_v1",
			Type:        models.ArtifactTypeTool,
			Name:        "Parse CSV",
			Description: "Parses CSV text into a list of records with typed columns.",
			Content:     "def parse_csv(text): ...",
			Tags:        []string{"csv", "parsing", "data"},
			Metadata:    map[string]interface{}{"version": "1.0.0"},
		},
		{
			ID:          "summarize_text_v1",
			Type:        models.ArtifactTypeTool,
			Name:        "Summarize Text",
			Description: "Summarizes long text into concise notes.",
			Content:     "def summarize(text, max_words=100): ...",
			Tags:        []string{"nlp", "summarization"},
			Metadata:    map[string]interface{}{"version": "1.0.0"},
		},
	}

	for _, p := range tools {
		existing, err := store.Get(ctx, p.ID)
		if err != nil {
			log.Fatalf("Failed to check for existing artifact %s: %v", p.ID, err)
		}
		if existing != nil {
			logger.Info("Skipping existing tool", "id", p.ID)
			continue
		}
		if _, err := artifacts.StoreArtifact(ctx, p, true); err != nil {
			log.Printf("Failed to seed tool %s: %v", p.ID, err)
		} else {
			logger.Info("Seeded tool", "id", p.ID)
		}
	}
	logger.Info("Seeding complete!")
}
