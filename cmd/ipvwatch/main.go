package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/ipvwatch/internal/api"
	"github.com/dgnsrekt/ipvwatch/internal/badge"
	"github.com/dgnsrekt/ipvwatch/internal/browser"
	"github.com/dgnsrekt/ipvwatch/internal/cdp"
	"github.com/dgnsrekt/ipvwatch/internal/config"
	"github.com/dgnsrekt/ipvwatch/internal/ipcache"
	"github.com/dgnsrekt/ipvwatch/internal/netutil"
	"github.com/dgnsrekt/ipvwatch/internal/relay"
	"github.com/dgnsrekt/ipvwatch/internal/storage"
	"github.com/dgnsrekt/ipvwatch/internal/tracker"
)

type cliFlags struct {
	CDPAddress string `long:"cdp-address" description:"Chromium DevTools host (CHROMIUM_CDP_ADDRESS)"`
	CDPPort    int    `long:"cdp-port" description:"Chromium DevTools port (CHROMIUM_CDP_PORT)"`
	BindAddr   string `long:"bind" description:"API listen address (IPVWATCH_BIND_ADDR)"`
	DataDir    string `long:"data-dir" description:"persistent state directory (IPVWATCH_DATA_DIR)"`
	JournalDir string `long:"journal-dir" description:"write an event journal under this directory (IPVWATCH_JOURNAL_DIR)"`
	Options    string `long:"options" description:"user options YAML file (IPVWATCH_OPTIONS_FILE)"`
	GlyphFile  string `long:"glyphs" description:"badge glyph YAML file (IPVWATCH_GLYPH_FILE)"`
	LogLevel   string `long:"log-level" description:"debug, info, warn or error (IPVWATCH_LOG_LEVEL)"`
	NoIPCache  bool   `long:"no-ip-cache" description:"do not remember addresses per domain"`
	Launch     bool   `long:"launch" description:"start a local Chromium if none is listening (IPVWATCH_LAUNCH_BROWSER)"`
}

func (f cliFlags) apply(cfg *config.Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.CDPAddress, f.CDPAddress)
	set(&cfg.BindAddr, f.BindAddr)
	set(&cfg.DataDir, f.DataDir)
	set(&cfg.JournalDir, f.JournalDir)
	set(&cfg.OptionsFile, f.Options)
	set(&cfg.GlyphFile, f.GlyphFile)
	set(&cfg.LogLevel, f.LogLevel)
	if f.CDPPort != 0 {
		cfg.CDPPort = f.CDPPort
	}
	if f.NoIPCache {
		cfg.IPCache = false
	}
	if f.Launch {
		cfg.LaunchBrowser = true
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var cli cliFlags
	if _, err := flags.NewParser(&cli, flags.Default).Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("ipvwatch config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"bind_addr", cfg.BindAddr,
		"data_dir", cfg.DataDir,
		"journal_dir", cfg.JournalDir,
		"options_file", cfg.OptionsFile,
		"poll_interval", cfg.PollInterval,
		"ip_cache", cfg.IPCache,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
	)

	if err := run(cfg); err != nil {
		slog.Error("ipvwatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Options{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfile,
			Binary:     cfg.BrowserBinary,
		})
		if err := launcher.Start(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	optFile, err := config.OpenOptionsFile(cfg.OptionsFile)
	if err != nil {
		slog.Warn("Using default options", "path", cfg.OptionsFile, "error", err)
	}
	opts := optFile.Current()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		slog.Warn("Persistent store unavailable; state will not survive a restart", "dir", cfg.DataDir, "error", err)
		if store, err = storage.OpenMemory(); err != nil {
			return err
		}
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	snap, err := store.Load()
	if err != nil {
		slog.Warn("Failed to load persisted state; starting empty", "error", err)
		snap = storage.Snapshot{}
	}
	saver := storage.NewSaver(store)
	defer func() {
		if err := saver.Close(); err != nil {
			slog.Error("Failed to flush state", "error", err)
		}
	}()
	seed(saver, snap)

	var board *badge.Board
	if cfg.GlyphFile != "" {
		board = badge.NewBoardFromFile(cfg.GlyphFile)
	} else {
		board = badge.NewBoard(nil)
	}

	trOpts := tracker.Options{
		Hub:            relay.NewHub(0),
		Icons:          board,
		Saver:          saver,
		Hold:           cfg.Hold,
		BirthGrace:     cfg.BirthGrace,
		DomainCap:      cfg.DomainCap,
		Schemes:        schemes(opts),
		CompactTooltip: cfg.CompactTooltip,
	}
	if prefix, err := netutil.ParseNAT64Prefix(opts.NAT64Prefix); err == nil {
		trOpts.NAT64 = prefix
	}
	if policy, err := tracker.PolicyByName(opts.AddressPolicy); err == nil {
		trOpts.Policy = policy
	} else {
		slog.Warn("Unknown address policy; using default", "policy", opts.AddressPolicy)
	}
	if cfg.IPCache {
		cache := ipcache.New(uint32(cfg.IPCacheLimit), saver)
		cache.Load(snap.Addrs)
		trOpts.AddrCache = cache
	}
	if cfg.JournalDir != "" {
		journal := storage.NewJournal(cfg.JournalDir, 5000, cfg.JournalSizeMB)
		defer func() { _ = journal.Close() }()
		trOpts.Journal = journal
	}

	tr := tracker.New(trOpts)
	tr.Restore(snap)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, nil)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           api.NewServer(tr, board, optFile),
		ReadHeaderTimeout: 10 * time.Second,
	}

	source := cdp.NewSource(cfg.GetCDPURL(), tr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return source.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-source.Ready():
		}
		tr.RunSweeps(gctx, source, cfg.PollInterval)
		return nil
	})
	g.Go(func() error {
		err := config.WatchOptions(gctx, optFile.Path(), func(o config.Options) {
			optFile.Set(o)
			applyOptions(tr, o)
		})
		if err != nil {
			slog.Warn("Options hot reload disabled", "path", optFile.Path(), "error", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("ipvwatch listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// seed tells the saver what the store already holds so restored records
// are not written straight back.
func seed(saver *storage.Saver, snap storage.Snapshot) {
	for _, rec := range snap.Tabs {
		saver.Seed(storage.TabKey(rec.ID), rec)
	}
	for _, rec := range snap.Requests {
		saver.Seed(storage.RequestKey(rec.ID), rec)
	}
	for _, rec := range snap.Addrs {
		saver.Seed(storage.AddrKey(rec.Domain), rec)
	}
}

func schemes(o config.Options) tracker.ColorSchemes {
	return tracker.ColorSchemes{Regular: o.RegularColorScheme, Incognito: o.IncognitoColorScheme}
}

func applyOptions(tr *tracker.Tracker, o config.Options) {
	tr.SetColorSchemes(schemes(o))
	if prefix, err := netutil.ParseNAT64Prefix(o.NAT64Prefix); err == nil {
		tr.SetNAT64(prefix)
	}
	if policy, err := tracker.PolicyByName(o.AddressPolicy); err == nil {
		tr.SetAddressPolicy(policy)
	} else {
		slog.Warn("Unknown address policy; keeping current", "policy", o.AddressPolicy)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
