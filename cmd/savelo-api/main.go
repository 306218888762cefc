package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/savelolabs/savelo/pkg/engine"
	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/ledger/chain"
	"github.com/savelolabs/savelo/pkg/ledger/memory"
	"github.com/savelolabs/savelo/pkg/logger"
	"github.com/savelolabs/savelo/pkg/metrics"
	"github.com/savelolabs/savelo/pkg/server"
	"github.com/savelolabs/savelo/pkg/walletindex"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
	defaultDBPath      = "savelo/walletindex.db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "Enable pprof server")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for the HTTP API")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	allowedOriginsFlag := flag.String("allowed-origins", "", "Comma-separated CORS origin allowlist for the miniapp frontend")
	dbPathFlag := flag.String("db-path", defaultDBPath, "Path to the wallet index SQLite database (or set SAVELO_DB_PATH env var)")
	modeFlag := flag.String("mode", "dev", "Ledger mode: 'dev' (in-memory) or 'chain' (Solana RPC)")
	rpcURLFlag := flag.String("rpc-url", solanarpc.DevNet_RPC, "Solana RPC endpoint for chain mode (or set SAVELO_RPC_URL env var)")
	programIDFlag := flag.String("program-id", "", "Savelo program id for chain mode (or set SAVELO_PROGRAM_ID env var)")
	keypairFlag := flag.String("keypair", "", "Path to the signing keypair file for chain mode (or set SAVELO_KEYPAIR env var)")
	refetchDelayFlag := flag.Duration("refetch-delay", 3*time.Second, "Delay before the post-confirmation re-fetch")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "Maximum time to wait for in-flight requests during graceful shutdown")

	flag.Parse()

	// Optional .env for local development.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("SAVELO_DB_PATH"); env != "" {
		*dbPathFlag = env
	}
	if env := os.Getenv("SAVELO_RPC_URL"); env != "" {
		*rpcURLFlag = env
	}
	if env := os.Getenv("SAVELO_PROGRAM_ID"); env != "" {
		*programIDFlag = env
	}
	if env := os.Getenv("SAVELO_KEYPAIR"); env != "" {
		*keypairFlag = env
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("SENTRY_ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: environment,
			Release:     version,
		}); err != nil {
			log.Warn("failed to initialize sentry, continuing without it", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Start pprof server if enabled
	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	// Start metrics server
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clock := clockwork.NewRealClock()

	var led ledger.Ledger
	switch *modeFlag {
	case "dev":
		memLedger, err := memory.New(memory.Config{Logger: log, Clock: clock})
		if err != nil {
			return fmt.Errorf("failed to create dev ledger: %w", err)
		}
		led = memLedger
		log.Info("using in-memory dev ledger")
	case "chain":
		if *programIDFlag == "" {
			return fmt.Errorf("program id is required in chain mode")
		}
		programID, err := solana.PublicKeyFromBase58(*programIDFlag)
		if err != nil {
			return fmt.Errorf("invalid program id: %w", err)
		}
		var wallet solana.PrivateKey
		if *keypairFlag != "" {
			wallet, err = solana.PrivateKeyFromSolanaKeygenFile(*keypairFlag)
			if err != nil {
				return fmt.Errorf("failed to load keypair: %w", err)
			}
		}
		chainLedger, err := chain.New(chain.Config{
			Logger:    log,
			RPC:       solanarpc.New(*rpcURLFlag),
			ProgramID: programID,
			Wallet:    wallet,
		})
		if err != nil {
			return fmt.Errorf("failed to create chain ledger: %w", err)
		}
		led = chainLedger
		log.Info("using on-chain ledger", "rpc_url", *rpcURLFlag, "program_id", programID.String())
	default:
		return fmt.Errorf("unknown mode %q, expected 'dev' or 'chain'", *modeFlag)
	}

	index, err := walletindex.Open(walletindex.Config{Logger: log, Path: *dbPathFlag})
	if err != nil {
		return fmt.Errorf("failed to open wallet index: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			log.Error("failed to close wallet index", "error", err)
		}
	}()

	eng, err := engine.New(engine.Config{
		Logger:       log,
		Ledger:       led,
		Index:        index,
		Clock:        clock,
		RefetchDelay: *refetchDelayFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	var origins []string
	if *allowedOriginsFlag != "" {
		for _, origin := range strings.Split(*allowedOriginsFlag, ",") {
			origins = append(origins, strings.TrimSpace(origin))
		}
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		Engine:          eng,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		AllowedOrigins:  origins,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}
