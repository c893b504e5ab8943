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
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/chunkstore"
	"github.com/poiesic/chunkstore/config"
	"github.com/poiesic/chunkstore/core"
	"github.com/poiesic/chunkstore/ingestion"
	"github.com/urfave/cli/v2"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// commands holds what every command needs to open the database.
type commands struct {
	dbOpts []chunkstore.DatabaseOption
}

func newApp(dbOpts ...chunkstore.DatabaseOption) *cli.App {
	cmds := &commands{dbOpts: dbOpts}
	return &cli.App{
		Name:  "chunkstore",
		Usage: "Chunk, embed and store text for retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection to operate on (defaults to the configured collection)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Chunk, embed and store files (or stdin when no files are given)",
				ArgsUsage: "[file...]",
				Action:    cmds.ingest,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "source-id",
						Usage: "Source ID for stdin input, or for a single file",
					},
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "Delete existing records of each source before storing",
					},
					&cli.StringSliceFlag{
						Name:  "meta",
						Usage: "Metadata entry attached to every chunk (key=value)",
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Maximum chunk length in characters (0 uses the configured value)",
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Characters shared by adjacent chunks (-1 uses the configured value)",
						Value: -1,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of sources ingested concurrently",
						Value: 4,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per source for retryable failures",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay between retries, doubled on each attempt",
						Value: 500 * time.Millisecond,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N sources (0 disables)",
						Value: 10,
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete all records of a source",
				ArgsUsage: "<source-id>",
				Action:    cmds.delete,
			},
			{
				Name:      "drop",
				Usage:     "Drop a collection and all of its records",
				ArgsUsage: "<collection>",
				Action:    cmds.drop,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "ignore-missing",
						Usage: "Do not fail when the collection does not exist",
					},
				},
			},
			{
				Name:      "show",
				Usage:     "List the stored chunks of a source",
				ArgsUsage: "<source-id>",
				Action:    cmds.show,
			},
			{
				Name:   "collections",
				Usage:  "List collections and their record counts",
				Action: cmds.collections,
			},
		},
	}
}

func (cmds *commands) openDatabase(c *cli.Context) (*chunkstore.Database, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	db, err := chunkstore.NewDatabase(c.Context, cfg, cmds.dbOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func (cmds *commands) ingest(c *cli.Context) error {
	metadata, err := parseMetadata(c.StringSlice("meta"))
	if err != nil {
		return err
	}
	sources, err := readSources(c.Args().Slice(), c.String("source-id"), c.App.Reader, metadata)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	db, err := cmds.openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg := db.Config()
	size, overlap := cfg.Chunking.Size, cfg.Chunking.Overlap
	if v := c.Int("chunk-size"); v > 0 {
		size = v
	}
	if v := c.Int("chunk-overlap"); v >= 0 {
		overlap = v
	}

	opts := []ingestion.Option{
		ingestion.WithChunking(size, overlap),
		ingestion.WithPoolSize(c.Int("workers")),
		ingestion.WithRetry(c.Int("max-retries"), c.Duration("retry-delay")),
	}
	if interval := c.Int("report-interval"); interval > 0 {
		opts = append(opts, ingestion.WithProgress(c.App.ErrWriter, interval))
	}

	pipeline, err := db.NewIngestionPipeline(c.String("collection"), opts...)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer pipeline.Release()

	results, err := pipeline.IngestAll(ctx, sources, c.Bool("replace"))
	chunks := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", r.SourceID, r.Err)
			continue
		}
		chunks += len(r.IDs)
		fmt.Fprintf(c.App.Writer, "%s\t%d chunks\t%d replaced\n", r.SourceID, len(r.IDs), r.Deleted)
	}
	fmt.Fprintf(c.App.ErrWriter, "Ingested %d sources, %d chunks\n", len(sources), chunks)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func (cmds *commands) delete(c *cli.Context) error {
	sourceID := c.Args().First()
	if sourceID == "" {
		return fmt.Errorf("source ID argument is required: %w", core.ErrMissingSourceID)
	}

	db, err := cmds.openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := db.Store(c.String("collection"))
	if err != nil {
		return err
	}
	result, err := store.DeleteEmbeddings(c.Context, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source %q: %w", sourceID, err)
	}
	fmt.Fprintf(c.App.Writer, "Deleted %d records of %q from %s\n", result.DeletedCount, sourceID, result.Collection)
	return nil
}

func (cmds *commands) drop(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("collection argument is required")
	}

	db, err := cmds.openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := db.Store(c.String("collection"))
	if err != nil {
		return err
	}
	if err := store.DropCollection(c.Context, name, c.Bool("ignore-missing")); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Dropped collection %s\n", name)
	return nil
}

func (cmds *commands) show(c *cli.Context) error {
	sourceID := c.Args().First()
	if sourceID == "" {
		return fmt.Errorf("source ID argument is required: %w", core.ErrMissingSourceID)
	}

	db, err := cmds.openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := db.Store(c.String("collection"))
	if err != nil {
		return err
	}
	records, err := store.Documents(c.Context, sourceID)
	if err != nil {
		return fmt.Errorf("failed to read source %q: %w", sourceID, err)
	}
	for _, r := range records {
		fmt.Fprintf(c.App.Writer, "%d\t#%d\t%d chars\t%d dims\t%s\n",
			r.ID, r.ChunkIndex, len([]rune(r.Content)), len(r.Vector), preview(r.Content, 60))
	}
	return nil
}

func (cmds *commands) collections(c *cli.Context) error {
	db, err := cmds.openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := db.Backend().ListCollections(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, info := range infos {
		fmt.Fprintf(c.App.Writer, "%s\t%d records\t%s\n", info.Name, info.Records, info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// readSources builds one source per file, or a single source from stdin
// when no paths are given. File sources default to the file's base name.
func readSources(paths []string, sourceID string, stdin io.Reader, metadata core.Metadata) ([]ingestion.Source, error) {
	if len(paths) == 0 {
		if sourceID == "" {
			return nil, fmt.Errorf("--source-id is required when reading stdin: %w", core.ErrMissingSourceID)
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return []ingestion.Source{{ID: sourceID, Text: string(data), Metadata: metadata.Clone()}}, nil
	}
	if sourceID != "" && len(paths) > 1 {
		return nil, errors.New("--source-id can only be used with a single file")
	}

	sources := make([]ingestion.Source, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		id := sourceID
		if id == "" {
			id = filepath.Base(path)
		}
		meta := metadata.Clone()
		meta["path"] = path
		sources = append(sources, ingestion.Source{ID: id, Text: string(data), Metadata: meta})
	}
	return sources, nil
}

func parseMetadata(entries []string) (core.Metadata, error) {
	metadata := core.Metadata{}
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid metadata entry %q: expected key=value", entry)
		}
		metadata[strings.TrimSpace(key)] = value
	}
	return metadata, nil
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
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
