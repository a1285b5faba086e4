package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"srcgrep/internal/aggregate"
	"srcgrep/internal/backend"
	"srcgrep/internal/backend/local"
	"srcgrep/internal/backend/remote"
	"srcgrep/internal/config"
	"srcgrep/internal/domain"
	"srcgrep/internal/eventbus"
	"srcgrep/internal/session"
	"srcgrep/internal/ui"
	"srcgrep/internal/ui/views"
)

func main() {
	app := &cli.App{
		Name:  "srcgrep",
		Usage: "Search a repository as you type",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file (default: <root>/.srcgrep.toml, then the user config)"},
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "Worktree to search with the local backend"},
			&cli.StringFlag{Name: "rev", Usage: "Search a committed revision instead of the worktree"},
			&cli.StringFlag{Name: "remote", Usage: "GraphQL endpoint; switches to the remote backend"},
			&cli.BoolFlag{Name: "strict", Usage: "Abort on misordered backend lines instead of repairing them"},
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Start with this query"},
		},
		Action: runTUI,
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Run one search and print the aggregated ranges",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print results as JSON"},
					&cli.BoolFlag{Name: "blocks", Aliases: []string{"b"}, Usage: "Print the lines of every range"},
				},
				Action: runSearch,
			},
			{
				Name:  "init",
				Usage: "Write a default " + config.FileName + " into the root",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Overwrite an existing file"},
				},
				Action: runInit,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runTUI is the default action: the interactive search screen
func runTUI(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	bus := eventbus.New()
	defer bus.Close()

	cfg, err := loadConfig(c, bus)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg.Debug.LogFile)
	defer closeLog()

	searcher, blobs, stop, err := buildBackend(cfg, bus, cfg.Search.Watch)
	if err != nil {
		return err
	}
	defer stop()

	repo := cfg.RepositoryIdentity()
	sess := session.New(searcher, session.Options{
		Repository:   repo,
		Revision:     cfg.Repository.Rev,
		Timeout:      cfg.Timeout(),
		Strict:       cfg.Debug.StrictAggregation,
		Bus:          bus,
		InitialQuery: c.String("query"),
		BaseContext:  ctx,
	})
	defer sess.Close()

	model := ui.NewModel(ui.Options{
		Session:    sess,
		Blobs:      blobs,
		Repository: repo,
		Revision:   cfg.Repository.Rev,
		Debounce:   cfg.Debounce(),
	})

	log.Printf("Starting UI for %s", repo)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	model.SetProgram(p)

	// Forward the events the UI reacts to
	forward := func(e eventbus.DomainEvent) {
		p.Send(ui.EventMsg{Event: e})
	}
	defer bus.Subscribe(eventbus.EventRepositoryChanged, forward)()
	defer bus.Subscribe(eventbus.EventError, forward)()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.Printf("Error running program: %v", err)
		return fmt.Errorf("error running program: %w", err)
	}
	log.Printf("UI exited normally")
	return nil
}

// searchOutput is the --json shape of a headless search
type searchOutput struct {
	Query      string                        `json:"query"`
	Repository string                        `json:"repository"`
	Revision   string                        `json:"revision,omitempty"`
	Files      []domain.AggregatedFileResult `json:"files"`
}

// runSearch drives the session once without a terminal UI
func runSearch(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: srcgrep search <query>")
	}
	query := c.Args().First()

	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg.Debug.LogFile)
	defer closeLog()

	searcher, _, stop, err := buildBackend(cfg, nil, false)
	if err != nil {
		return err
	}
	defer stop()

	sess := session.New(searcher, session.Options{
		Repository:  cfg.RepositoryIdentity(),
		Revision:    cfg.Repository.Rev,
		Timeout:     cfg.Timeout(),
		Strict:      cfg.Debug.StrictAggregation,
		BaseContext: ctx,
	})
	defer sess.Close()

	sess.Do(sess.SetQueryText(query))

	view := sess.CurrentView()
	if err := searchFailure(view); err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, searchOutput{
			Query:      query,
			Repository: cfg.RepositoryIdentity().String(),
			Revision:   cfg.Repository.Rev,
			Files:      view.Results,
		})
	}
	writeText(c.App.Writer, view.Results, c.Bool("blocks"))
	return nil
}

// searchFailure maps a failed view to the exit status of the search command
func searchFailure(view session.View) error {
	switch {
	case view.Error == session.ErrorNone:
		return nil
	case backend.IsCanceled(view.Err):
		return cli.Exit("search interrupted", 130)
	default:
		return cli.Exit(fmt.Sprintf("search failed (%s): %v", view.Error, view.Err), 2)
	}
}

func writeJSON(w io.Writer, out searchOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeText(w io.Writer, results []domain.AggregatedFileResult, blocks bool) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return
	}
	for _, res := range results {
		line, _ := aggregate.JumpLine(res)
		fmt.Fprintf(w, "%s:%d (%d matches)\n", res.Path, line, res.MatchCount())
		for _, r := range res.Ranges {
			fmt.Fprintf(w, "  %d-%d -> %d\n", r.Start, r.End, aggregate.RangeJumpLine(r))
			if blocks {
				fmt.Fprintln(w, views.RenderBlock(res.Lines, views.Language(res.Path), false, r))
			}
		}
	}
}

// runInit writes a config for the root that later runs pick up
func runInit(c *cli.Context) error {
	root, err := resolveRoot(c.String("root"))
	if err != nil {
		return err
	}
	path := filepath.Join(root, config.FileName)
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.Repository.ID = filepath.Base(root)
	cfg.Repository.Root = "."
	if err := config.NewConfigServiceWithBus(nil, path).SaveToPath(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}

// loadConfig finds and loads the config, then applies command line overrides
func loadConfig(c *cli.Context, bus eventbus.EventBus) (*config.Config, error) {
	root, err := resolveRoot(c.String("root"))
	if err != nil {
		return nil, err
	}

	path := config.Resolve(c.String("config"), root)
	svc := config.NewConfigServiceWithBus(bus, path)

	cfg := config.DefaultConfig()
	if path != "" {
		if cfg, err = svc.LoadFromPath(path); err != nil {
			return nil, err
		}
		// Relative roots are relative to the file declaring them
		if !filepath.IsAbs(cfg.Repository.Root) {
			cfg.Repository.Root = filepath.Join(filepath.Dir(path), cfg.Repository.Root)
		}
	}

	if c.IsSet("root") {
		cfg.Repository.Root = root
		if cfg.Repository.Kind == string(domain.RepositoryKindLocal) {
			cfg.Repository.ID = filepath.Base(root)
		}
	}
	if c.IsSet("rev") {
		cfg.Repository.Rev = c.String("rev")
	}
	if c.IsSet("remote") {
		cfg.Backend.Type = config.BackendRemote
		cfg.Backend.Endpoint = c.String("remote")
	}
	if c.Bool("strict") {
		cfg.Debug.StrictAggregation = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("error getting current directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("error resolving path: %w", err)
	}
	return abs, nil
}

// buildBackend creates the configured searcher. blobs is nil when the
// backend cannot read whole files. stop releases the file watcher.
func buildBackend(cfg *config.Config, bus eventbus.EventBus, watch bool) (backend.Searcher, backend.BlobReader, func(), error) {
	noop := func() {}

	if cfg.Backend.Type == config.BackendRemote {
		return remote.New(cfg.Backend.Endpoint, cfg.Backend.Token, cfg.Timeout()), nil, noop, nil
	}

	repo := cfg.RepositoryIdentity()
	b, err := local.New(map[domain.Repository]string{repo: cfg.Repository.Root}, local.Options{
		CaseSensitive:     cfg.Search.CaseSensitive,
		Regex:             cfg.Search.Regex,
		MaxFiles:          cfg.Search.MaxFiles,
		MaxMatchesPerFile: cfg.Search.MaxMatchesPerFile,
		MaxFileSize:       cfg.Search.MaxFileSize,
		Workers:           cfg.Search.Workers,
		Include:           cfg.Search.Include,
		Exclude:           cfg.Search.Exclude,
		CacheSize:         cfg.Search.CacheSize,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	// A pinned revision never changes on disk
	if !watch || bus == nil || cfg.Repository.Rev != "" {
		return b, b, noop, nil
	}

	w, err := local.NewWatcher(b, bus, cfg.Repository.Root, cfg.WatchDebounce())
	if err == nil {
		err = w.Start()
	}
	if err != nil {
		log.Printf("File watching disabled: %v", err)
		return b, b, noop, nil
	}
	return b, b, func() {
		if err := w.Stop(); err != nil {
			log.Printf("Failed to stop watcher: %v", err)
		}
	}, nil
}

// setupLogging sends the log to path, or discards it when path is empty
func setupLogging(path string) func() {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() {}
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.SetOutput(io.Discard)
		return func() {}
	}
	log.SetOutput(logFile)
	return func() { logFile.Close() }
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
