// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/ranking"
	"github.com/hyperjump/kioku/internal/registry"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "kioku server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded (for saving, etc.).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "retrieve":
		runRetrieve()
	case "ingest":
		runIngest()
	case "datasets":
		runDatasets()
	case "links":
		runLinks()
	case "keyword":
		runKeyword()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (retrieval scoring, file ingestion, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ig := components.Ingestor
	watchOpts := []watcher.WatcherOption{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			if _, err := ig.IngestPath(context.Background(), path); err != nil {
				logger.Warn("watch ingest file failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if err := ig.DeletePath(context.Background(), path); err != nil && !models.IsNotFound(err) {
				logger.Warn("watch delete by path failed", zap.String("path", path), zap.Error(err))
			}
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Engine,
		components.Ingestor,
		components.Store,
		components.Registry,
		components.KeywordIndex,
		cfg,
		logger,
	)
	srv.SetWatcher(watchSvc, resolvedConfigPath)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildQuery joins all positional args with spaces so multi-word queries work
// the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func outputFormatOrExit(name string) cli.OutputFormat {
	switch name {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", name)
		os.Exit(1)
		return cli.OutputText
	}
}

func runRetrieve() {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8090", "server URL (empty = use direct storage when server is not running)")
	consumerID := fs.String("consumer", "", "consumer id the retrieval runs on behalf of")
	topK := fs.Int("top-k", 0, "number of candidates before reranking (0 = config default)")
	threshold := fs.Float64("threshold", 0, "minimum cosine similarity (0 = config default)")
	maxChunks := fs.Int("max-chunks", 0, "context budget in chunks (0 = config default)")
	maxTokens := fs.Int("max-tokens", 0, "context budget in tokens (0 = config default)")
	intentTags := fs.String("intent-tags", "", "comma-separated intent tags for reranking")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	_ = fs.Parse(args)

	if *consumerID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: kioku retrieve --consumer <id> [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: kioku retrieve --consumer <id> [flags] <query>")
		os.Exit(1)
	}
	format := outputFormatOrExit(*outputFormat)

	var tags []string
	if *intentTags != "" {
		tags = strings.Split(*intentTags, ",")
	}
	reqBody := map[string]interface{}{
		"consumer_id": *consumerID,
		"query":       queryStr,
		"top_k":       *topK,
		"threshold":   *threshold,
		"max_chunks":  *maxChunks,
		"max_tokens":  *maxTokens,
		"intent_tags": tags,
	}

	if *serverURL != "" {
		// Use HTTP API when server is running (avoids Bleve/SQLite lock conflict).
		bundle, err := retrieveViaHTTP(*serverURL, reqBody)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteBundle(os.Stdout, bundle, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Direct storage access (when server is not running).
	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	bundle, err := components.Engine.RetrieveContext(context.Background(), *consumerID, queryStr, retrieval.RetrieveOptions{
		TopK:       *topK,
		Threshold:  *threshold,
		MaxChunks:  *maxChunks,
		MaxTokens:  *maxTokens,
		IntentTags: tags,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteBundle(os.Stdout, bundle, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func retrieveViaHTTP(serverURL string, reqBody map[string]interface{}) (*models.ContextBundle, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/retrieve", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var bundle models.ContextBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &bundle, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	name := fs.String("name", "", "dataset name (text mode; default: file base name)")
	category := fs.String("category", "", "source category recorded on the dataset")
	tags := fs.String("tags", "", "comma-separated tags applied to every chunk")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	var chunkTags []string
	if *tags != "" {
		chunkTags = strings.Split(*tags, ",")
	}

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		exts := components.Config.Watch.Extensions
		n := 0
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return walkErr
			}
			if !extensionAllowed(filepath.Ext(p), exts) {
				return nil
			}
			if _, err := components.Ingestor.IngestPath(ctx, p); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			n++
			return nil
		})
		if err != nil {
			fmt.Printf("Ingesting directory failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}

	absPath, _ := filepath.Abs(path)
	datasetName := *name
	if datasetName == "" {
		datasetName = filepath.Base(absPath)
	}
	ds, err := components.Ingestor.CreateDataset(ctx, "", datasetName, *category, models.BackendKind(components.Config.Embedding.Backend))
	if err != nil {
		fmt.Printf("Failed to create dataset: %v\n", err)
		os.Exit(1)
	}
	if err := components.Ingestor.IngestFile(ctx, ds.ID, absPath, chunkTags); err != nil {
		fmt.Printf("Ingestion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Dataset ingested successfully: %s\n", ds.ID)
}

func extensionAllowed(ext string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

func runDatasets() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kioku datasets <list|delete> [flags] [id]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("datasets", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[3:])

	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	switch sub {
	case "list":
		datasets, err := components.Store.ListDatasets(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteDatasets(os.Stdout, datasets, outputFormatOrExit(*outputFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "delete":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku datasets delete <id>")
			os.Exit(1)
		}
		id := fs.Arg(0)
		if err := components.Ingestor.DeleteDataset(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Dataset deleted: %s\n", id)
	default:
		fmt.Printf("Unknown datasets subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runLinks() {
	if len(os.Args) < 4 {
		printLinksUsage()
		os.Exit(1)
	}
	sub := os.Args[2]
	consumerID := os.Args[3]
	fs := flag.NewFlagSet("links", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	weight := fs.Float64("weight", 1.0, "link weight in [0.1, 2.0]")
	access := fs.String("access", "full", "access level: full, summary, or reference_only")
	specialty := fs.String("specialty-tags", "", "comma-separated specialty tags (register subcommand)")
	_ = fs.Parse(os.Args[4:])

	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	switch sub {
	case "list":
		links, err := components.Registry.GetLinks(ctx, consumerID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteLinks(os.Stdout, links, outputFormatOrExit(*outputFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "set":
		if fs.NArg() < 1 {
			printLinksUsage()
			os.Exit(1)
		}
		link := &models.ConsumerLink{
			ConsumerID:  consumerID,
			DatasetID:   fs.Arg(0),
			Enabled:     true,
			Weight:      *weight,
			AccessLevel: models.AccessLevel(*access),
		}
		if err := components.Registry.SetLink(ctx, link); err != nil {
			fmt.Fprintf(os.Stderr, "Set link failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Linked %s to %s (weight %.2f)\n", consumerID, link.DatasetID, link.Weight)
	case "enable", "disable":
		if fs.NArg() < 1 {
			printLinksUsage()
			os.Exit(1)
		}
		enabled := sub == "enable"
		if err := components.Registry.SetEnabled(ctx, consumerID, fs.Arg(0), enabled); err != nil {
			fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Link %s: %s\n", sub+"d", fs.Arg(0))
	case "register":
		var tags []string
		if *specialty != "" {
			tags = strings.Split(*specialty, ",")
		}
		c := &models.Consumer{ID: consumerID, Name: consumerID, SpecialtyTags: tags}
		if err := components.Registry.UpsertConsumer(ctx, c); err != nil {
			fmt.Fprintf(os.Stderr, "Register failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Consumer registered: %s\n", consumerID)
	default:
		fmt.Printf("Unknown links subcommand: %s\n", sub)
		printLinksUsage()
		os.Exit(1)
	}
}

func printLinksUsage() {
	fmt.Println("Usage: kioku links <list|set|enable|disable|register> <consumer> [flags] [dataset-id]")
	fmt.Println("  kioku links list <consumer>                       List a consumer's links")
	fmt.Println("  kioku links set <consumer> [flags] <dataset-id>   Create or update a link")
	fmt.Println("  kioku links enable <consumer> <dataset-id>        Enable a link")
	fmt.Println("  kioku links disable <consumer> <dataset-id>       Disable a link")
	fmt.Println("  kioku links register <consumer> [flags]           Register consumer and specialty tags")
}

func runKeyword() {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("keyword", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	consumerID := fs.String("consumer", "", "consumer id whose scope the search runs in")
	limit := fs.Int("limit", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	if *consumerID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: kioku keyword --consumer <id> [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildQuery(fs.Args())

	components, logger := mustInitialize(*configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	links, err := components.Registry.EnabledLinks(ctx, *consumerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scope resolution failed: %v\n", err)
		os.Exit(1)
	}
	datasetIDs := make([]string, len(links))
	for i, link := range links {
		datasetIDs[i] = link.DatasetID
	}
	results, err := components.KeywordIndex.Search(ctx, queryStr, datasetIDs, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Keyword search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteKeywordResults(os.Stdout, results, outputFormatOrExit(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	Datasets    int64                  `json:"datasets"`
	Chunks      int64                  `json:"chunks"`
	KeywordDocs *uint64                `json:"keyword_docs,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8090", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		components, logger := mustInitialize(*configPath)
		defer logger.Sync()
		defer components.Close()
		ctx := context.Background()
		datasetCount, err := components.Store.CountDatasets(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count datasets failed: %v\n", err)
			os.Exit(1)
		}
		chunkCount, err := components.Store.CountChunks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count chunks failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{Datasets: datasetCount, Chunks: chunkCount}
		if components.KeywordIndex != nil {
			if n, err := components.KeywordIndex.DocCount(); err == nil {
				status.KeywordDocs = &n
			}
		}
		cfg := components.Config
		status.Config = map[string]interface{}{
			"embedding_backend":    cfg.Embedding.Backend,
			"embedding_model":      cfg.Embedding.Model,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"chunk_size":           cfg.Chunking.ChunkSize,
			"chunk_overlap":        cfg.Chunking.Overlap,
			"chunking_strategy":    cfg.Chunking.Strategy,
			"database_path":        cfg.Storage.DatabasePath,
			"keyword_index_path":   cfg.Storage.KeywordIndexPath,
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("datasets:      %d   # count of registered datasets\n", status.Datasets)
		fmt.Printf("chunks:        %d   # count of committed chunks\n", status.Chunks)
		if status.KeywordDocs != nil {
			fmt.Printf("keyword_docs:  %d   # chunks in the keyword index\n", *status.KeywordDocs)
		}
		if status.Config != nil {
			fmt.Println()
			fmt.Println("# configuration")
			keys := []string{
				"embedding_backend", "embedding_model", "embedding_dimensions",
				"chunk_size", "chunk_overlap", "chunking_strategy",
				"database_path", "keyword_index_path",
			}
			for _, k := range keys {
				if v, ok := status.Config[k]; ok {
					fmt.Printf("%-21s %v\n", k+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kioku watch <add|remove|list> [path]")
		fmt.Println("  kioku watch add <path>     Add directory to watch")
		fmt.Println("  kioku watch remove <path>  Remove directory from watch")
		fmt.Println("  kioku watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8090", "server URL")
	_ = fs.Parse(os.Args[3:])
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body, _ := json.Marshal(map[string]interface{}{"path": path, "sync": true})
		resp, err := http.Post(*serverURL+"/api/v1/watch/directories", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Add failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: kioku watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("Remove failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		resp, err := http.Get(*serverURL + "/api/v1/watch/directories")
		if err != nil {
			fmt.Printf("Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Printf("List failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Printf("Parse failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store        storage.Store
	Embedder     embedding.Embedder
	KeywordIndex keyword.Index
	Registry     *registry.Registry
	Engine       *retrieval.Engine
	Ingestor     *ingest.Ingestor
	Config       *config.Config
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

// mustInitialize loads the config, builds a logger, and initializes all
// components, exiting the process on failure. Shared by the direct-storage
// subcommands.
func mustInitialize(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return components, logger
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	embedder = embedding.WithCache(embedder, cfg.Embedding.CacheSize)

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	reg := registry.New(store)
	reranker := ranking.NewReranker(&cfg.Rank)
	engine := retrieval.NewEngine(store, reg, embedder, reranker, &cfg.Retrieval, logger)

	chunking := chunker.Options{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
		Strategy:  chunker.Strategy(cfg.Chunking.Strategy),
	}
	ig := ingest.NewIngestor(
		store,
		embedder,
		keywordIndex,
		extract.NewExtractor(),
		chunking,
		models.BackendKind(cfg.Embedding.Backend),
		cfg.Embedding.MaxRetries,
		logger,
	)

	return &Components{
		Store:        store,
		Embedder:     embedder,
		KeywordIndex: keywordIndex,
		Registry:     reg,
		Engine:       engine,
		Ingestor:     ig,
		Config:       cfg,
	}, nil
}

// newEmbedder selects the embedding backend. The local ONNX backend falls
// back to the mock embedder when the runtime or model is unavailable, so
// development setups without the ONNX runtime still work end to end.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "cloud":
		return embedding.NewCloudEmbedder(embedding.CloudConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKeyEnv:  cfg.Embedding.APIKeyEnv,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		})
	default:
		local, err := embedding.NewLocalEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Model,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
		)
		if err != nil {
			logger.Warn("local embedder unavailable, using mock embedder",
				zap.String("model_path", cfg.Embedding.ModelPath),
				zap.Error(err))
			return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
		}
		return local, nil
	}
}

func printUsage() {
	fmt.Println(`kioku - retrieval support engine for RAG pipelines

Usage:
  kioku server [flags]                 Start the HTTP server
  kioku retrieve [flags] <query>       Retrieve context for a consumer
  kioku ingest [flags] <file-or-dir>   Ingest files into datasets
  kioku datasets <list|delete>         Manage datasets
  kioku links <subcommand>             Manage consumer-dataset links
  kioku keyword [flags] <query>        Keyword (BM25) search in a consumer's scope
  kioku status [flags]                 Show engine/storage/index status
  kioku watch <add|remove|list>        Manage watched directories
  kioku version                        Show version
  kioku help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging (retrieval scoring, file ingestion, etc.)

Retrieve Flags:
  --consumer string   Consumer id the retrieval runs on behalf of (required)
  --server string     Server URL (default: http://localhost:8090). Use empty (--server "") for direct storage.
  --top-k int         Candidates before reranking (0 = config default)
  --threshold float   Minimum cosine similarity (0 = config default)
  --max-chunks int    Context budget in chunks (0 = config default)
  --max-tokens int    Context budget in tokens (0 = config default)
  --intent-tags       Comma-separated intent tags for reranking
  --output string     Output format: text or json (default: text)

Examples:
  kioku server
  kioku ingest --category docs manual.pdf
  kioku links register agent --specialty-tags billing,invoices
  kioku links set agent --weight 1.5 <dataset-id>
  kioku retrieve --consumer agent "how do refunds work"
  kioku keyword --consumer agent refund
  kioku datasets list
  kioku status --output json
  kioku watch add /path/to/docs`)
}
