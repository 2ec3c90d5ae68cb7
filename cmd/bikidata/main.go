package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/bikidata/internal/config"
	"github.com/standardbeagle/bikidata/internal/debug"
	"github.com/standardbeagle/bikidata/internal/dispatch"
	"github.com/standardbeagle/bikidata/internal/ingest"
	"github.com/standardbeagle/bikidata/internal/query"
	"github.com/standardbeagle/bikidata/internal/semantic"
	"github.com/standardbeagle/bikidata/internal/store"
)

var Version = "0.3.0"

// inputPattern matches the dump formats the parser understands.
const inputPattern = "*.{gz,nt,trig}"

func loadConfig(c *cli.Context) (config.Config, error) {
	return config.Load(c.String("config"))
}

func main() {
	app := &cli.App{
		Name:                   "bikidata",
		Usage:                  "Bulk-load RDF dumps and serve filtered, faceted queries over them",
		Version:                Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   "bikidata.toml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "Ingest an N-Triples/TriG file, or every matching file in a directory",
				ArgsUsage: "<path-or-dir>",
				Action:    runBuild,
			},
			{
				Name:   "ftss",
				Usage:  "Build the per-subject full-text index on an existing store",
				Action: runFTSS,
			},
			{
				Name:   "semantic",
				Usage:  "Build the vector index on an existing store (requires COHERE_API_KEY)",
				Action: runSemantic,
			},
			{
				Name:      "worker",
				Usage:     "Run the dispatcher: one write-serializing manager plus N query workers",
				ArgsUsage: "[N]",
				Action:    runWorker,
			},
			{
				Name:      "query",
				Usage:     "Run one query synchronously; reads the JSON request from the argument or stdin",
				ArgsUsage: "[json]",
				Action:    runQuery,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// collectInputs expands a path argument into the list of dump files to
// ingest.
func collectInputs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		ok, err := doublestar.Match(inputPattern, filepath.Base(path))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s is not a .gz, .nt or .trig file", path)
		}
		return []string{path}, nil
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(path, inputPattern))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no .gz, .nt or .trig files under %s", path)
	}
	return matches, nil
}

func runBuild(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("build needs a file or directory argument")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	paths, err := collectInputs(c.Args().First())
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := ingest.Build(c.Context, db, cfg.Ingest, paths)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d triples in %s\n", result.Count, result.Duration.Round(time.Second))
	return nil
}

func runFTSS(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := ingest.BuildFTSS(c.Context, db, cfg.Ingest.Stemmer)
	if err != nil {
		return err
	}
	fmt.Printf("built subject fts index in %s\n", result.Duration.Round(time.Second))
	return nil
}

func runSemantic(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	embedder, err := semantic.NewCohereClient(cfg.Embedding)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := ingest.BuildSemantic(c.Context, db, embedder)
	if err != nil {
		return err
	}
	fmt.Printf("embedded %d subject documents in %s\n", result.Count, result.Duration.Round(time.Second))
	return nil
}

// newExecutor opens the store read-only and wires the embedder when a key
// is configured.
func newExecutor(cfg config.Config) (*query.Executor, *sql.DB, error) {
	db, err := store.OpenReadOnly(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	var embed query.EmbedSQLFunc
	if cfg.Embedding.APIKey != "" {
		embedder, err := semantic.NewCohereClient(cfg.Embedding)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		embed = query.EmbedderSQL(embedder)
	}
	return query.NewExecutor(db, embed), db, nil
}

func runWorker(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	workers := cfg.Dispatch.Workers
	if c.NArg() > 0 {
		if n, err := strconv.Atoi(c.Args().First()); err == nil && n > 0 {
			workers = n
		}
	}

	executor, readDB, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	defer readDB.Close()

	// the manager is the single writer
	writeDB, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer writeDB.Close()

	queue := dispatch.NewRedisQueue(cfg.Dispatch.RedisHost)
	defer queue.Close()

	execQuery := func(ctx context.Context, opts map[string]any) (any, error) {
		req, err := decodeRequest(opts)
		if err != nil {
			return nil, err
		}
		return executor.Query(ctx, req)
	}
	insertFn, deleteFn := dispatch.NewStoreMutators(writeDB)
	d := dispatch.New(queue, execQuery, insertFn, deleteFn, cfg.Dispatch)

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	debug.LogDispatch("starting manager and %d workers\n", workers)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Manager(ctx) })
	for i := 0; i < workers; i++ {
		g.Go(func() error { return d.Worker(ctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// decodeRequest converts loosely-typed wire options into a Request.
func decodeRequest(opts map[string]any) (query.Request, error) {
	var req query.Request
	raw, err := json.Marshal(opts)
	if err != nil {
		return req, fmt.Errorf("re-encode request: %w", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func runQuery(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var raw []byte
	if c.NArg() > 0 {
		raw = []byte(strings.Join(c.Args().Slice(), " "))
	} else {
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read request from stdin: %w", err)
		}
	}
	var req query.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	executor, db, err := newExecutor(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	resp, err := executor.Query(c.Context, req)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
