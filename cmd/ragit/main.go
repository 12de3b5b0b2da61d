// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/ragit"
	"github.com/poiesic/ragit/ai"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/ai/openai"
	"github.com/poiesic/ragit/reembed"
	"github.com/poiesic/ragit/storage/badger"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	dbFlag := &cli.StringFlag{
		Name:     "db",
		Aliases:  []string{"d"},
		Usage:    "Path to BadgerDB database directory",
		Required: true,
	}
	aiFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "embeddinggemma",
		},
		&cli.StringFlag{
			Name:  "generation-host",
			Usage: "Generation service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "generation-model",
			Usage: "Generation model name",
			Value: "qwen2.5:3b",
		},
	}

	return &cli.App{
		Name:  "ragit",
		Usage: "Retrieval-augmented knowledge base over documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Submit a document for ingestion and wait for it to finish",
				ArgsUsage: "<locator>",
				Action:    ingestCommand,
				Flags: append([]cli.Flag{
					dbFlag,
					&cli.StringFlag{
						Name:     "source",
						Aliases:  []string{"s"},
						Usage:    "Source type (pdf_url, plain_text, website)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "no-wait",
						Usage: "Return the job ID without waiting for completion",
					},
				}, aiFlags...),
			},
			{
				Name:      "job",
				Usage:     "Show the status of an ingestion job",
				ArgsUsage: "<job-id>",
				Action:    jobCommand,
				Flags:     []cli.Flag{dbFlag},
			},
			{
				Name:   "jobs",
				Usage:  "List all ingestion jobs",
				Action: jobsCommand,
				Flags:  []cli.Flag{dbFlag},
			},
			{
				Name:      "query",
				Usage:     "Ask a question against the knowledge base",
				ArgsUsage: "<question>",
				Action:    queryCommand,
				Flags: append([]cli.Flag{
					dbFlag,
					&cli.StringFlag{
						Name:  "session",
						Usage: "Conversation session ID",
						Value: "default",
					},
				}, aiFlags...),
			},
			{
				Name:   "list",
				Usage:  "List all documents in the knowledge base",
				Action: listCommand,
				Flags:  []cli.Flag{dbFlag},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and its chunks",
				ArgsUsage: "<document-id>",
				Action:    deleteCommand,
				Flags:     []cli.Flag{dbFlag},
			},
			{
				Name:   "compact",
				Usage:  "Reclaim storage space and rebuild the search index",
				Action: compactCommand,
				Flags:  []cli.Flag{dbFlag},
			},
			{
				Name:   "purge-jobs",
				Usage:  "Delete finished job records older than a cutoff",
				Action: purgeJobsCommand,
				Flags: []cli.Flag{
					dbFlag,
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Purge terminal jobs created more than this long ago",
						Value: 7 * 24 * time.Hour,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Reembed all document chunks with new embeddings",
				Action: reembedCommand,
				Flags: []cli.Flag{
					dbFlag,
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL",
						Value: "http://localhost:11434/v1",
					},
					&cli.StringFlag{
						Name:     "embedding-model",
						Usage:    "Embedding model name",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed in each batch",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
		},
	}
}

func aiConfigFromFlags(c *cli.Context) (*ai.Config, error) {
	config := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithGenerationHost(c.String("generation-host")),
		ai.WithGenerationModel(c.String("generation-model")),
	)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}
	return config, nil
}

func openKnowledgeBase(c *cli.Context) (*ragit.KnowledgeBase, error) {
	config, err := aiConfigFromFlags(c)
	if err != nil {
		return nil, err
	}
	kb, err := ragit.NewKnowledgeBase(c.String("db"), ragit.WithAIConfig(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return kb, nil
}

func ingestCommand(c *cli.Context) error {
	ctx := context.Background()

	locator := c.Args().First()
	if locator == "" {
		return fmt.Errorf("locator argument is required")
	}
	source, err := ragit.ParseSourceType(c.String("source"))
	if err != nil {
		return err
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	jobID, err := kb.SubmitIngestion(ctx, source, locator)
	if err != nil {
		return fmt.Errorf("failed to submit ingestion: %w", err)
	}
	fmt.Printf("Job submitted: %s\n", jobID)

	if c.Bool("no-wait") {
		return nil
	}

	// The pipeline runs inside this process, so poll until the job
	// reaches a terminal status before shutting down.
	for {
		job, err := kb.Job(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to poll job: %w", err)
		}
		if job.Status.Terminal() {
			fmt.Printf("Job %s: %s", jobID, job.Status)
			if job.Status == core.JobCompleted {
				fmt.Printf(" (document %s, %d chunks)", job.DocumentID, job.ChunkCount)
			}
			if job.ErrorMessage != "" {
				fmt.Printf(" (%s)", job.ErrorMessage)
			}
			fmt.Println()
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func jobCommand(c *cli.Context) error {
	ctx := context.Background()

	jobID := c.Args().First()
	if jobID == "" {
		return fmt.Errorf("job-id argument is required")
	}

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	job, err := badger.NewJobRepository(backend).GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read job: %w", err)
	}

	fmt.Printf("Job:      %s\n", job.JobID)
	fmt.Printf("Status:   %s\n", job.Status)
	fmt.Printf("Source:   %s\n", job.Source)
	fmt.Printf("Created:  %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.DocumentID != "" {
		fmt.Printf("Document: %s (%d chunks)\n", job.DocumentID, job.ChunkCount)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("Error:    %s\n", job.ErrorMessage)
	}
	return nil
}

func jobsCommand(c *cli.Context) error {
	ctx := context.Background()

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	jobs, err := badger.NewJobRepository(backend).ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found.")
		return nil
	}
	for _, job := range jobs {
		fmt.Printf("%s  %-11s  %-10s  %s\n", job.JobID, job.Status, job.Source, job.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	ctx := context.Background()

	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("question argument is required")
	}

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	result, err := kb.AnswerQuery(ctx, c.String("session"), question)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Println(result.Answer)
	if len(result.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, citation := range result.Citations {
			if citation.Page > 0 {
				fmt.Printf("  %s (page %d)\n", citation.URL, citation.Page)
			} else {
				fmt.Printf("  %s\n", citation.URL)
			}
		}
	}
	return nil
}

func listCommand(c *cli.Context) error {
	ctx := context.Background()

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	repo, err := badger.NewKnowledgeRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer repo.Close()

	docs, err := repo.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return nil
	}
	for _, doc := range docs {
		fmt.Printf("%s  %-40s  %4d chunks  %s\n", doc.DocumentID, doc.Title, doc.ChunkCount, doc.IngestedAt.Format(time.RFC3339))
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	ctx := context.Background()

	documentID := c.Args().First()
	if documentID == "" {
		return fmt.Errorf("document-id argument is required")
	}

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	repo, err := badger.NewKnowledgeRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer repo.Close()

	if err := repo.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	fmt.Printf("Deleted document %s\n", documentID)
	return nil
}

func compactCommand(c *cli.Context) error {
	ctx := context.Background()

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	repo, err := badger.NewKnowledgeRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer repo.Close()

	if err := repo.Compact(ctx); err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	fmt.Println("Compaction complete.")
	return nil
}

func purgeJobsCommand(c *cli.Context) error {
	ctx := context.Background()

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	cutoff := time.Now().Add(-c.Duration("older-than"))
	purged, err := badger.NewJobRepository(backend).PurgeJobsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge jobs: %w", err)
	}
	fmt.Printf("Purged %d job records.\n", purged)
	return nil
}

func reembedCommand(c *cli.Context) error {
	ctx := context.Background()

	backend, err := badger.OpenBackend(c.String("db"), false)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer backend.Close()

	repo, err := badger.NewKnowledgeRepository(backend)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer repo.Close()

	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
	)
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}

	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	reembedder := reembed.NewReembedder(repo, embedder, reembedConfig, os.Stderr)

	fmt.Fprintf(os.Stderr, "Database: %s\n", c.String("db"))
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", c.String("embedding-host"))
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", c.String("embedding-model"))
	fmt.Fprintln(os.Stderr)

	if err := reembedder.Run(ctx); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
