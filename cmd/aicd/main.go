package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aic-pulse/platform/core/pkg/api"
	"github.com/aic-pulse/platform/core/pkg/auth"
	"github.com/aic-pulse/platform/core/pkg/config"
	"github.com/aic-pulse/platform/core/pkg/decisions"
	"github.com/aic-pulse/platform/core/pkg/escalation"
	"github.com/aic-pulse/platform/core/pkg/evidence"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/notify"
	"github.com/aic-pulse/platform/core/pkg/observability"
	"github.com/aic-pulse/platform/core/pkg/scoring"
	"github.com/aic-pulse/platform/core/pkg/tenants"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "init":
		return runInitCmd(stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "provision":
		return runProvisionCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "aicd — AI certification ledger daemon")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  aicd <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve       Run the API server (default)")
	fmt.Fprintln(w, "  init        Create database tables")
	fmt.Fprintln(w, "  verify      Verify an organization's chain (--org)")
	fmt.Fprintln(w, "  sweep       Escalate overdue incidents once (--window)")
	fmt.Fprintln(w, "  export      Export a sealed audit bundle (--org)")
	fmt.Fprintln(w, "  provision   Register an organization (--name, --tier)")
	fmt.Fprintln(w, "  health      Check server health (HTTP)")
	fmt.Fprintln(w, "")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

//nolint:gocognit
func runServer() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, sqlStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := sqlStore.Init(ctx); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}
	logger.Info("database ready", "url", cfg.DatabaseURL)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "aic-core",
		ServiceVersion: "1.0.0",
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	escalationWindow := cfg.EscalationWindow
	if cfg.ProfilesDir != "" && cfg.JurisdictionCode != "" {
		profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.JurisdictionCode)
		if err != nil {
			log.Fatalf("Failed to load jurisdiction profile: %v", err)
		}
		if w := profile.Escalation.Window(); w > 0 {
			escalationWindow = w
		}
		logger.Info("jurisdiction profile loaded", "code", profile.Code, "escalation_window", escalationWindow)
	}

	// Durable notification delivery through the outbox.
	outbox := notify.NewSQLOutbox(db)
	if err := outbox.Init(ctx); err != nil {
		log.Fatalf("Failed to init outbox: %v", err)
	}
	var dispatcher notify.Dispatcher = outbox
	if cfg.NotifyWebhookURL != "" {
		go notify.NewPump(outbox, notify.NewWebhookSender(cfg.NotifyWebhookURL), 30*time.Second).Run(ctx)
	} else {
		dispatcher = notify.NewLogDispatcher()
	}

	docs, err := openEvidenceStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to init evidence store: %v", err)
	}

	appender := ledger.NewAppender(sqlStore).WithMetrics(obs)
	scanner := escalation.NewScanner(sqlStore, appender, dispatcher)

	server := api.NewServer(api.Deps{
		Appender:    appender,
		Verifier:    ledger.NewVerifier(sqlStore),
		Scanner:     scanner,
		Provisioner: tenants.NewProvisioner(sqlStore),
		Recorder:    decisions.NewRecorder(appender, sqlStore),
		Scorer:      scoring.NewWeightedScorer(sqlStore, sqlStore),
		Orgs:        sqlStore,
		Incidents:   sqlStore,
		Entries:     sqlStore,
		Docs:        docs,
		SweepWindow: escalationWindow,
	})

	validator := auth.NewJWTValidator([]byte(cfg.JWTSecret))
	if validator == nil {
		logger.Warn("JWT_SECRET not set, bearer authentication disabled")
	}
	reject := func(w http.ResponseWriter, r *http.Request, detail string) {
		api.WriteUnauthorized(w, detail)
	}
	handler := obs.HTTPMiddleware(auth.RequestIDMiddleware(
		auth.NewMiddleware(validator, sqlStore, reject)(server.Routes())))

	// Scheduled escalation sweep.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, finish := obs.TrackOperation(ctx, "escalation.sweep")
				_, err := scanner.Sweep(sweepCtx, escalationWindow)
				finish(err)
				if err != nil {
					logger.Error("scheduled sweep failed", "error", err)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func openEvidenceStore(ctx context.Context, cfg *config.Config) (evidence.Store, error) {
	if cfg.EvidenceBucket != "" {
		return evidence.NewS3Store(ctx, evidence.S3Config{
			Bucket:   cfg.EvidenceBucket,
			Region:   cfg.EvidenceRegion,
			Endpoint: cfg.EvidenceEndpoint,
			Prefix:   "evidence/",
		})
	}
	return evidence.NewFileStore(cfg.EvidenceDir)
}

func runInitCmd(out, errOut io.Writer) int {
	ctx := context.Background()
	cfg := config.Load()
	db, sqlStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	if err := sqlStore.Init(ctx); err != nil {
		fmt.Fprintf(errOut, "Failed to init schema: %v\n", err)
		return 1
	}
	if err := notify.NewSQLOutbox(db).Init(ctx); err != nil {
		fmt.Fprintf(errOut, "Failed to init outbox: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, "Schema ready")
	return 0
}

func runVerifyCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	orgID := cmd.String("org", "", "organization id to verify")
	jsonOutput := cmd.Bool("json", false, "emit JSON")
	cmd.SetOutput(errOut)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *orgID == "" {
		fmt.Fprintln(errOut, "Error: --org is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	db, sqlStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	verdict, err := ledger.NewVerifier(sqlStore).Verify(ctx, *orgID)
	if err != nil {
		fmt.Fprintf(errOut, "Verification error: %v\n", err)
		return 1
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(verdict, "", "  ")
		fmt.Fprintln(out, string(data))
	} else {
		fmt.Fprintf(out, "%s: %s\n", *orgID, verdict)
	}
	if !verdict.Intact {
		return 1
	}
	return 0
}

func runSweepCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	window := cmd.Duration("window", 0, "escalation window (default from config)")
	cmd.SetOutput(errOut)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	db, sqlStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	threshold := *window
	if threshold <= 0 {
		threshold = cfg.EscalationWindow
	}

	scanner := escalation.NewScanner(sqlStore, ledger.NewAppender(sqlStore), notify.NewLogDispatcher())
	report, err := scanner.Sweep(ctx, threshold)
	if err != nil {
		fmt.Fprintf(errOut, "Sweep failed: %v\n", err)
		return 1
	}
	data, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(out, string(data))
	return 0
}

func runExportCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	orgID := cmd.String("org", "", "organization id to export")
	cmd.SetOutput(errOut)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *orgID == "" {
		fmt.Fprintln(errOut, "Error: --org is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	db, sqlStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	bundle, err := evidence.NewExporter(sqlStore, ledger.NewVerifier(sqlStore)).Export(ctx, *orgID)
	if err != nil {
		fmt.Fprintf(errOut, "Export failed: %v\n", err)
		return 1
	}
	data, _ := json.MarshalIndent(bundle, "", "  ")
	fmt.Fprintln(out, string(data))
	return 0
}

func runProvisionCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("provision", flag.ContinueOnError)
	name := cmd.String("name", "", "organization name")
	tier := cmd.String("tier", string(tenants.Tier3), "certification tier")
	email := cmd.String("email", "", "contact email")
	cmd.SetOutput(errOut)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(errOut, "Error: --name is required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	db, sqlStore, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(errOut, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	org, rawKey, err := tenants.NewProvisioner(sqlStore).Create(ctx, tenants.CreateRequest{
		Name:         *name,
		Tier:         tenants.Tier(*tier),
		ContactEmail: *email,
	})
	if err != nil {
		fmt.Fprintf(errOut, "Provisioning failed: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "Organization: %s\n", org.ID)
	fmt.Fprintf(out, "API key (shown once, store it now): %s\n", rawKey)
	return 0
}

func runHealthCmd(out, errOut io.Writer) int {
	cfg := config.Load()
	resp, err := http.Get("http://localhost:" + cfg.Port + "/healthz")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(out, "OK")
	return 0
}
