package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"example.com/tokenledger/pkg/api"
	"example.com/tokenledger/pkg/explorer"
	"example.com/tokenledger/pkg/journal"
	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

var (
	GitTag    = "dev"
	GitCommit = "unknown"
)

const explorerPrefix = "/explorer/"

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("tokend stopped", zap.Error(err))
	}
	log.Info("tokend stopped")
}

func parseConfig(args []string) (Config, error) {
	fs := flag.NewFlagSet("tokend", flag.ContinueOnError)
	var (
		configPath = fs.String("config", os.Getenv("TOKEND_CONFIG"), "Path to YAML config file")
		listen     = fs.String("listen", "", "HTTP listen address")
		network    = fs.String("network", "", "Network identifier served to clients")
		journalP   = fs.String("journal", "", "Path to the transfer journal")
		creatorKey = fs.String("creator-key", "", "Path to the creator wallet (created if missing)")
		logLevel   = fs.String("log-level", "", "Log level")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "network":
			cfg.Network = *network
		case "journal":
			cfg.JournalPath = *journalP
		case "creator-key":
			cfg.CreatorKey = *creatorKey
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	return cfg, cfg.Validate()
}

// run wires the ledger, journal and HTTP server and blocks until ctx is done
// or one of them fails.
func run(ctx context.Context, cfg Config, log *zap.Logger) error {
	log.Info("starting tokend", zap.String("tag", GitTag), zap.String("commit", GitCommit))

	creator, created, err := wallet.LoadOrCreate(cfg.CreatorKey)
	if err != nil {
		return fmt.Errorf("creator wallet: %w", err)
	}
	if created {
		log.Info("created creator wallet", zap.String("path", cfg.CreatorKey))
	}

	j, err := journal.Open(cfg.JournalPath, log.Named("journal"))
	if err != nil {
		return err
	}
	defer j.Close()

	var opts []tokens.Option
	if cfg.Token.Name != "" {
		opts = append(opts, tokens.WithName(cfg.Token.Name))
	}
	if cfg.Token.Symbol != "" {
		opts = append(opts, tokens.WithSymbol(cfg.Token.Symbol))
	}
	if cfg.Token.TotalSupply != 0 {
		opts = append(opts, tokens.WithTotalSupply(cfg.Token.TotalSupply))
	}
	ledger := tokens.NewLedger(creator.Address(), opts...)
	if err := j.SetMetadata(ledger.Metadata()); err != nil {
		return err
	}
	if err := j.Replay(ledger); err != nil {
		return err
	}

	log.Info("ledger ready",
		zap.String("name", ledger.Name()),
		zap.String("symbol", ledger.Symbol()),
		zap.Uint64("total_supply", ledger.TotalSupply()),
		zap.Stringer("owner", ledger.Owner()),
		zap.Uint64("transfers", ledger.Len()))

	mux := http.NewServeMux()
	if cfg.Explorer {
		mux.Handle(explorerPrefix, explorer.NewExplorer(ledger, explorerPrefix, log.Named("explorer")))
	}
	mux.Handle("/", api.NewAPI(api.Config{
		Ledger:        ledger,
		Network:       cfg.Network,
		Logger:        log.Named("api"),
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Nonces:        j,
	}).Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.TLS.Cert != "" {
		srv.TLSConfig, err = LoadTLSConfig(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return err
		}
	}

	// The journal outlives the server: it is stopped only once Shutdown has
	// drained in-flight requests, and flushes on its way out.
	journalCtx, stopJournal := context.WithCancel(context.Background())
	defer stopJournal()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return j.Run(journalCtx, ledger)
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Listen), zap.String("network", cfg.Network), zap.Bool("tls", srv.TLSConfig != nil))
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stopJournal()
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
