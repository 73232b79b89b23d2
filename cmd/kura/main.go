// Package main is the Kura CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/embedding"
	"github.com/hyperjump/kura/internal/identity"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/kv"
	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/internal/vfs"
	"github.com/hyperjump/kura/internal/vrkai"
	"github.com/hyperjump/kura/internal/vrpath"
	"github.com/hyperjump/kura/internal/watcher"
	"github.com/hyperjump/kura/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kura/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory, so running from a project dir
// picks up the project's config.
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
	case "init":
		runInit()
	case "mkdir":
		runMkdir()
	case "put":
		runPut()
	case "ls":
		runLs()
	case "rm":
		runRm()
	case "mv":
		runMv()
	case "search":
		runSearch()
	case "export":
		runExport()
	case "import":
		runImport()
	case "pack":
		runPack()
	case "unpack":
		runUnpack()
	case "version", "--version", "-v":
		fmt.Printf("kura version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components bundles everything a command needs to operate on a node's
// filesystem directly.
type Components struct {
	Store    kv.Store
	Embedder embedding.Embedder
	FS       *vfs.VectorFS
	Node     identity.Identity
	Logger   *zap.Logger
}

func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	var store kv.Store
	var err error
	switch cfg.Storage.Backend {
	case "badger":
		store, err = kv.NewBadgerStore(cfg.Storage.Path)
	case "memory":
		store = kv.NewMemoryStore()
	default:
		store, err = kv.NewSQLiteStore(cfg.Storage.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	catalog := embedding.DefaultCatalog()
	model, err := catalog.Lookup(cfg.Embedding.Model)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var embedder embedding.Embedder
	if cfg.Embedding.Provider == "remote" {
		embedder = embedding.NewRemoteEmbedder(cfg.Embedding.RemoteURL, model, cfg.Embedding.CacheSize)
	} else {
		embedder = embedding.NewMockEmbedder(model)
	}

	fs, err := vfs.New(store, catalog, []embedding.ModelType{model}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	node, err := identity.Parse(cfg.Node.Name + "/" + cfg.Node.Profile)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &Components{
		Store:    store,
		Embedder: embedder,
		FS:       fs,
		Node:     node,
		Logger:   logger,
	}, nil
}

// setup loads config, builds a logger, and initializes components. Exits on
// failure; every subcommand starts here.
func setup(configPath string, debug bool) (*config.Config, string, *Components) {
	cfg, resolvedPath, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return cfg, resolvedPath, components
}

func mustVRPath(s string) vrpath.Path {
	p, err := vrpath.FromString(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid path: %v\n", err)
		os.Exit(1)
	}
	return p
}

func outputFormat(name string) cli.OutputFormat {
	switch name {
	case "json":
		return cli.OutputJSON
	case "text":
		return cli.OutputText
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", name)
		os.Exit(1)
		return cli.OutputText
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedPath, components := setup(*configPath, *debug)
	defer components.Close()
	logger := components.Logger
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedPath),
		zap.String("node", components.Node.String()))

	target := mustVRPath(cfg.Watch.TargetFolder)
	ingester := ingest.NewIngester(components.FS, components.Node, components.Embedder,
		ingest.WithLogger(logger))
	if err := ingester.EnsureFolder(context.Background(), target); err != nil {
		logger.Fatal("Failed to prepare import folder", zap.Error(err))
	}

	exts := cfg.Watch.Extensions
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		exts,
		cfg.Watch.RecursiveOrDefault(),
		func(path string) {
			if _, _, err := ingester.IngestFile(context.Background(), path, target); err != nil {
				logger.Warn("watch import failed", zap.String("path", path), zap.Error(err))
			}
		},
		func(path string) {
			if err := ingester.Remove(context.Background(), path, target); err != nil {
				logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExisting()

	srv := server.NewServer(
		components.FS,
		components.Embedder,
		components.Node,
		cfg,
		logger,
		server.WithWatcher(watchSvc),
		server.WithConfigPath(resolvedPath),
	)
	go func() {
		if err := srv.Start(); err != nil {
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

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "config.yaml", "where to write the config file")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*path); err == nil {
		fmt.Fprintf(os.Stderr, "Config already exists: %s\n", *path)
		os.Exit(1)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *path)
}

func runMkdir() {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura mkdir <path>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	path := mustVRPath(fs.Arg(0))
	ingester := ingest.NewIngester(components.FS, components.Node, components.Embedder)
	if err := ingester.EnsureFolder(context.Background(), path); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", path)
}

func runPut() {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	folderFlag := fs.String("folder", "", "destination folder (default: the configured import folder)")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura put [flags] <file-or-directory>...")
		os.Exit(1)
	}
	cfg, _, components := setup(*configPath, false)
	defer components.Close()

	dest := cfg.Watch.TargetFolder
	if *folderFlag != "" {
		dest = *folderFlag
	}
	folder := mustVRPath(dest)
	ingester := ingest.NewIngester(components.FS, components.Node, components.Embedder,
		ingest.WithLogger(components.Logger))
	ctx := context.Background()
	if err := ingester.EnsureFolder(ctx, folder); err != nil {
		fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
		os.Exit(1)
	}

	for _, arg := range fs.Args() {
		info, err := os.Stat(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}
		if info.IsDir() {
			n, err := ingester.IngestDirectory(ctx, arg, folder, cfg.Watch.Extensions)
			if err != nil {
				fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Imported %d file(s) from %s\n", n, arg)
			continue
		}
		path, ok, err := ingester.IngestFile(ctx, arg, folder)
		if err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}
		if ok {
			fmt.Printf("Imported %s as %s\n", arg, path)
		} else {
			fmt.Printf("Unchanged: %s\n", arg)
		}
	}
}

func runLs() {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	recursive := fs.Bool("recursive", false, "list subfolders recursively")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	target := "/"
	if fs.NArg() > 0 {
		target = fs.Arg(0)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	path := mustVRPath(target)
	format := outputFormat(*output)
	ctx := context.Background()
	reader := components.FS.NewReader(components.Node, components.Node)

	folder, err := reader.ListFolder(ctx, path, *recursive)
	if err == nil {
		if err := cli.WriteListing(os.Stdout, folder, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	entry, entryErr := reader.Entry(ctx, path)
	if entryErr != nil {
		fmt.Fprintf(os.Stderr, "ls failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteEntry(os.Stdout, entry, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRm() {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura rm <path>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	path := mustVRPath(fs.Arg(0))
	writer := components.FS.NewWriter(components.Node, components.Node)
	if err := writer.DeleteEntry(context.Background(), path); err != nil {
		fmt.Fprintf(os.Stderr, "rm failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %s\n", path)
}

func runMv() {
	fs := flag.NewFlagSet("mv", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 2 {
		fmt.Println("Usage: kura mv <source> <destination>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	src := mustVRPath(fs.Arg(0))
	dst := mustVRPath(fs.Arg(1))
	writer := components.FS.NewWriter(components.Node, components.Node)
	if err := writer.MoveEntry(context.Background(), src, dst); err != nil {
		fmt.Fprintf(os.Stderr, "mv failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Moved %s to %s\n", src, dst)
}

// searchArgsReorder moves flags appearing after the query to the front so
// flag.Parse sees them. The flag package stops at the first non-flag
// argument.
func searchArgsReorder(args []string) []string {
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

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	scopeFlag := fs.String("path", "/", "folder to search under")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	minScore := fs.Float64("min-score", 0, "minimum similarity score (default from config)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		fmt.Println("Usage: kura search [flags] <query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: kura search [flags] <query>")
		os.Exit(1)
	}
	format := outputFormat(*output)

	cfg, _, components := setup(*configPath, false)
	defer components.Close()

	k := *limit
	if k <= 0 {
		k = cfg.Search.DefaultLimit
	}
	if k > cfg.Search.MaxLimit {
		k = cfg.Search.MaxLimit
	}
	score := *minScore
	if score <= 0 {
		score = cfg.Search.DefaultMinScore
	}

	ctx := context.Background()
	start := time.Now()
	vector, err := components.Embedder.Embed(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	reader := components.FS.NewReader(components.Node, components.Node)
	results, err := reader.VectorSearch(ctx, mustVRPath(*scopeFlag), vector, k, score)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, results, time.Since(start), format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	out := fs.String("o", "", "output file (default: <name>.vrkai)")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura export [flags] <path>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	path := mustVRPath(fs.Arg(0))
	reader := components.FS.NewReader(components.Node, components.Node)
	k, err := reader.RetrieveVRKai(context.Background(), path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	data, err := k.EncodeBytes()
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	target := *out
	if target == "" {
		name, _ := path.Last()
		target = name + ".vrkai"
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %s to %s\n", path, target)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	parentFlag := fs.String("parent", "/", "destination folder")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura import [flags] <file.vrkai>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
	k, err := vrkai.DecodeBytes(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
	writer := components.FS.NewWriter(components.Node, components.Node)
	path, err := writer.SaveVRKai(context.Background(), mustVRPath(*parentFlag), k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %s\n", path)
}

func runPack() {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	out := fs.String("o", "", "output file (default: <name>.vrpack)")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura pack [flags] <folder>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	folder := mustVRPath(fs.Arg(0))
	ctx := context.Background()
	reader := components.FS.NewReader(components.Node, components.Node)
	listing, err := reader.ListFolder(ctx, folder, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pack failed: %v\n", err)
		os.Exit(1)
	}

	name := "root"
	if n, ok := folder.Last(); ok {
		name = n
	}
	pack := vrkai.NewEmpty(name)
	var collect func(f *vfs.FSFolder) error
	collect = func(f *vfs.FSFolder) error {
		for _, entry := range f.Entries {
			if entry.Kind != vfs.EntryItem {
				continue
			}
			k, err := reader.RetrieveVRKai(ctx, entry.Path)
			if err != nil {
				return err
			}
			rel := vrpath.New(entry.Path.Components()[folder.Depth():]...)
			if err := pack.InsertVRKai(k, rel, false); err != nil {
				return err
			}
		}
		for _, sub := range f.Folders {
			if err := collect(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := collect(listing); err != nil {
		fmt.Fprintf(os.Stderr, "pack failed: %v\n", err)
		os.Exit(1)
	}

	data, err := pack.EncodeBytes()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pack failed: %v\n", err)
		os.Exit(1)
	}
	target := *out
	if target == "" {
		target = name + ".vrpack"
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "pack failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Packed %d item(s) from %s to %s\n", pack.Len(), folder, target)
}

func runUnpack() {
	fs := flag.NewFlagSet("unpack", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	parentFlag := fs.String("parent", "/", "destination folder")
	overwrite := fs.Bool("overwrite", false, "overwrite existing items")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: kura unpack [flags] <file.vrpack>")
		os.Exit(1)
	}
	_, _, components := setup(*configPath, false)
	defer components.Close()

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "unpack failed: %v\n", err)
		os.Exit(1)
	}
	pack, err := vrkai.DecodePackBytes(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unpack failed: %v\n", err)
		os.Exit(1)
	}
	writer := components.FS.NewWriter(components.Node, components.Node)
	paths, err := writer.UnpackPack(context.Background(), mustVRPath(*parentFlag), pack, *overwrite)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unpack failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Unpacked %d item(s):\n", len(paths))
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
}

func printUsage() {
	fmt.Println(`kura - permissioned vector filesystem for a local node

Usage:
  kura server [flags]                 Start the HTTP server and directory watcher
  kura init [flags]                   Write a default config file
  kura mkdir <path>                   Create a folder (and missing parents)
  kura put [flags] <file|dir>...      Import files as embedded items
  kura ls [flags] [path]              List a folder or show one entry
  kura rm <path>                      Delete a folder or item
  kura mv <source> <destination>      Move an entry, keeping grants and sources
  kura search [flags] <query>         Vector search over the node's items
  kura export [flags] <path>          Export an item as a portable .vrkai file
  kura import [flags] <file.vrkai>    Import a .vrkai file
  kura pack [flags] <folder>          Bundle a folder's items into a .vrpack
  kura unpack [flags] <file.vrpack>   Restore a .vrpack into a folder
  kura version                        Show version
  kura help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kura/config.yaml,
                     or ./config.yaml when present)

Search Flags:
  --path string      Folder to search under (default: /)
  --limit int        Number of results (default from config)
  --min-score float  Minimum similarity score (default from config)
  --output string    Output format: text or json

Examples:
  kura init
  kura server
  kura mkdir /docs/guides
  kura put --folder /docs report.pdf
  kura ls --recursive /docs
  kura search --path /docs "quarterly revenue"
  kura export /docs/report_pdf-1a2b3c4d -o report.vrkai
  kura pack /docs -o docs.vrpack`)
}
