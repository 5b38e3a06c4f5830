// typewitness analyzes recorded writing sessions for signs of authentic authorship.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"typewitness/internal/analysis"
	"typewitness/internal/clipboard"
	"typewitness/internal/config"
	"typewitness/internal/logging"
	"typewitness/internal/playback"
	"typewitness/internal/report"
	"typewitness/internal/server"
	"typewitness/internal/session"
	"typewitness/internal/store"
	"typewitness/internal/watcher"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries what every command needs.
type app struct {
	cfg        *config.Config
	configPath string
	loader     *config.Loader
	log        *logging.Logger
	stdout     io.Writer
	stderr     io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("typewitness", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to config file")
	global.Usage = func() { usage(stderr) }

	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() < 1 {
		usage(stderr)
		return 1
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	if cmd == "help" {
		usage(stdout)
		return 0
	}

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	defer loader.Close()
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(stderr, "Error preparing directories: %v\n", err)
		return 1
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring logging: %v\n", err)
		return 1
	}
	if cfg.Logging.Output != "file" {
		logCfg.Writer = stderr
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error configuring logging: %v\n", err)
		return 1
	}
	defer logger.Close()

	a := &app{
		cfg:        cfg,
		configPath: path,
		loader:     loader,
		log:        logger,
		stdout:     stdout,
		stderr:     stderr,
	}

	switch cmd {
	case "analyze":
		err = a.cmdAnalyze(rest)
	case "playback":
		err = a.cmdPlayback(rest)
	case "watch":
		err = a.cmdWatch(rest)
	case "serve":
		err = a.cmdServe(rest)
	case "history":
		err = a.cmdHistory(rest)
	case "config":
		err = a.cmdConfig(rest)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		usage(stderr)
		return 1
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `typewitness - Writing session authorship analysis

Usage: typewitness [options] <command> [args]

Commands:
  analyze [-json] [-no-save] <session.json>   Analyze a recorded session
  playback [-json] <session.json>             Print the playback sequence
  watch <session.json>                        Reanalyze whenever the file changes
  serve [-addr host:port]                     Run the HTTP API
  history [-limit N] [-session ID] [-json]    Show stored verdicts
  history -migrations                         Show the history schema version
  config [-init]                              Print the effective config, or write a default file
  help                                        Show this help message

Options:
  -config <path>  Path to config file (TOML, JSON, or YAML)`)
}

func ledgerOptions(cfg *config.Config) []clipboard.Option {
	return []clipboard.Option{
		clipboard.WithCapacity(cfg.Ledger.Capacity),
		clipboard.WithTTL(cfg.Ledger.TTL()),
	}
}

// applyConfig pushes the reloadable settings of cfg into a running command.
// Storage, server and watch settings take effect on the next start.
func (a *app) applyConfig(cfg *config.Config, setLedger func(...clipboard.Option)) {
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		a.log.SetLevel(level)
	}
	setLedger(ledgerOptions(cfg)...)
	a.log.Info("configuration reloaded",
		"path", a.configPath,
		"ledger_capacity", cfg.Ledger.Capacity,
		"ledger_ttl", cfg.Ledger.TTL(),
		"log_level", cfg.Logging.Level,
	)
}

// watchConfig applies config file changes until ctx is done. A config
// directory that cannot be watched leaves the command running without reload.
func (a *app) watchConfig(ctx context.Context, setLedger func(...clipboard.Option)) {
	a.loader.OnChange(func(cfg *config.Config) {
		a.applyConfig(cfg, setLedger)
	})
	if err := a.loader.Watch(); err != nil {
		a.log.Warn("config hot reload disabled", "path", a.configPath, "error", err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-a.loader.Errors():
				a.log.Warn("config reload failed", "path", a.configPath, "error", err)
			}
		}
	}()
}

func (a *app) openStore() (*store.Store, error) {
	if !a.cfg.Storage.Enabled {
		return nil, nil
	}
	st, err := store.Open(a.cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func (a *app) save(ctx context.Context, st *store.Store, p *session.Payload, res *analysis.SessionAnalysis, source string) {
	if st == nil {
		return
	}
	rec, err := store.NewRecord(p, res, source)
	if err == nil {
		err = st.SaveAnalysis(ctx, rec)
	}
	if err != nil {
		a.log.Warn("save analysis failed", "session_id", p.SessionID, "error", err)
		return
	}
	a.log.Debug("analysis saved", "session_id", p.SessionID, "analysis_id", rec.ID)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func (a *app) cmdAnalyze(args []string) error {
	fs := newFlagSet("analyze", a.stderr)
	asJSON := fs.Bool("json", false, "print the analysis as JSON")
	noSave := fs.Bool("no-save", false, "do not record the verdict in history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: typewitness analyze [-json] [-no-save] <session.json>")
	}
	path := fs.Arg(0)

	p, err := session.Load(path)
	if err != nil {
		return err
	}
	res := analysis.Analyze(p.Events, p.EditorHTML,
		analysis.WithLedger(clipboard.NewLedger(ledgerOptions(a.cfg)...)))

	if !*noSave {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
			a.save(context.Background(), st, p, res, path)
		}
	}

	if *asJSON {
		return writeJSON(a.stdout, res)
	}
	report.Print(a.stdout, report.Header{SessionID: p.SessionID, Source: path, EventCount: len(p.Events)}, res)
	return nil
}

func (a *app) cmdPlayback(args []string) error {
	fs := newFlagSet("playback", a.stderr)
	asJSON := fs.Bool("json", false, "print snapshots as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: typewitness playback [-json] <session.json>")
	}

	p, err := session.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	snaps := playback.FromEvents(p.Events, p.EditorHTML, clipboard.NewLedger(ledgerOptions(a.cfg)...))

	if *asJSON {
		return writeJSON(a.stdout, snaps)
	}
	report.PrintPlayback(a.stdout, snaps)
	return nil
}

func (a *app) cmdWatch(args []string) error {
	fs := newFlagSet("watch", a.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: typewitness watch <session.json>")
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	w, err := watcher.New(fs.Arg(0),
		watcher.WithDebounce(a.cfg.Watch.Debounce()),
		watcher.WithLedgerOptions(ledgerOptions(a.cfg)...),
		watcher.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.watchConfig(ctx, w.SetLedgerOptions)

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-w.Results():
			if !ok {
				return nil
			}
			if r.Err != nil {
				fmt.Fprintf(a.stderr, "[%s] %v\n", r.Time.Format(time.TimeOnly), r.Err)
				continue
			}
			a.save(ctx, st, r.Payload, r.Analysis, r.Path)
			report.Print(a.stdout, report.Header{
				SessionID:  r.Payload.SessionID,
				Source:     r.Path,
				EventCount: len(r.Payload.Events),
			}, r.Analysis)
		}
	}
}

func (a *app) cmdServe(args []string) error {
	fs := newFlagSet("serve", a.stderr)
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	serverCfg := a.cfg.Server
	serverCfg.Addr = *addr

	opts := []server.Option{
		server.WithLedgerOptions(ledgerOptions(a.cfg)...),
		server.WithLogger(a.log),
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
		opts = append(opts, server.WithHistory(st))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(serverCfg, opts...)
	a.watchConfig(ctx, srv.SetLedgerOptions)
	return srv.ListenAndServe(ctx)
}

func (a *app) cmdHistory(args []string) error {
	fs := newFlagSet("history", a.stderr)
	limit := fs.Int("limit", store.DefaultListLimit, "maximum number of analyses to show")
	sessionID := fs.String("session", "", "show only the latest analysis of this session")
	asJSON := fs.Bool("json", false, "print records as JSON")
	showMigrations := fs.Bool("migrations", false, "show applied and pending schema migrations")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("history storage is disabled in the configuration")
	}
	defer st.Close()

	if *showMigrations {
		return a.printMigrations(st, *asJSON)
	}

	ctx := context.Background()
	var records []store.AnalysisRecord
	if *sessionID != "" {
		rec, err := st.LatestAnalysis(ctx, *sessionID)
		if err != nil {
			return err
		}
		records = []store.AnalysisRecord{*rec}
	} else {
		records, err = st.ListAnalyses(ctx, *limit)
		if err != nil {
			return err
		}
	}

	if *asJSON {
		return writeJSON(a.stdout, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(a.stdout, "No analyses recorded.")
		return nil
	}

	fmt.Fprintf(a.stdout, "%-20s  %-36s  %-16s  %4s  %s\n", "ANALYZED", "SESSION", "VERDICT", "RISK", "SOURCE")
	for _, rec := range records {
		fmt.Fprintf(a.stdout, "%-20s  %-36s  %-16s  %4d  %s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Session.SessionID,
			rec.Verdict,
			rec.RiskScore,
			rec.Session.SourcePath,
		)
	}
	return nil
}

func (a *app) printMigrations(st *store.Store, asJSON bool) error {
	status, err := st.MigrationStatus()
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(a.stdout, status)
	}

	fmt.Fprintf(a.stdout, "Schema version %d of %d (%s)\n", status.CurrentVersion, status.LatestVersion, a.cfg.Storage.Path)
	for _, m := range status.Applied {
		fmt.Fprintf(a.stdout, "  v%d  applied %s  %s\n",
			m.Version, m.AppliedAt.Local().Format("2006-01-02 15:04:05"), m.Description)
	}
	for _, m := range status.Pending {
		fmt.Fprintf(a.stdout, "  v%d  pending              %s\n", m.Version, m.Description)
	}
	return nil
}

func (a *app) cmdConfig(args []string) error {
	fs := newFlagSet("config", a.stderr)
	initFile := fs.Bool("init", false, "write a default config file if none exists")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*initFile {
		return a.cfg.WriteTOML(a.stdout)
	}

	_, created, err := config.LoadOrCreate(a.configPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(a.stdout, "Wrote default configuration to %s\n", a.configPath)
	} else {
		fmt.Fprintf(a.stdout, "Configuration already exists at %s\n", a.configPath)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
