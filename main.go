package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/swiftdevstuff/up-ynab-sync/internal/classifier"
	"github.com/swiftdevstuff/up-ynab-sync/internal/config"
	"github.com/swiftdevstuff/up-ynab-sync/internal/credentials"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ledger"
	"github.com/swiftdevstuff/up-ynab-sync/internal/router"
	"github.com/swiftdevstuff/up-ynab-sync/internal/sync"
	"github.com/swiftdevstuff/up-ynab-sync/internal/upbank"
	"github.com/swiftdevstuff/up-ynab-sync/internal/ynab"
)

func main() {
	var (
		dataDir    = flag.String("data-dir", "data", "directory for the ledger database and configuration")
		profile    = flag.String("profile", "", "budget profile to operate on (default: the active profile)")
		days       = flag.Int("days", 0, "sync the last N days instead of the default 24 hours")
		from       = flag.String("from", "", "sync window start (YYYY-MM-DD), requires -to")
		to         = flag.String("to", "", "sync window end (YYYY-MM-DD)")
		dryRun     = flag.Bool("dry-run", false, "report what would be synced without writing anything")
		verbose    = flag.Bool("verbose", false, "log each transaction")
		categorize = flag.Bool("categorize", false, "apply merchant categorization rules")
		listen     = flag.String("listen", ":8080", "address for the status API (serve mode)")
	)
	flag.Parse()

	setupLogging()

	mode := flag.Arg(0)
	if mode == "" {
		mode = "sync"
	}

	if err := os.MkdirAll(*dataDir, os.ModePerm); err != nil {
		log.Fatal().Msg(err.Error())
	}

	db, err := ledger.Connect(filepath.Join(*dataDir, "ledger.db"))
	if err != nil {
		log.Fatal().Msg(err.Error())
	}
	defer db.Close()

	profiles, err := config.Load(filepath.Join(*dataDir, "config.json"))
	if err != nil {
		log.Fatal().Msg(err.Error())
	}

	creds := credentials.EnvStore{}

	cfg := sync.Config{
		Ledger:      db,
		Profiles:    profiles,
		Credentials: creds,
		Classifier:  classifier.New(db),
	}

	// The remote clients are only needed when a run actually talks to the
	// providers; serve, status and the maintenance modes work without tokens.
	if mode == "sync" || mode == "retry" {
		upToken, err := creds.Token(credentials.ServiceUpBank)
		if err != nil {
			log.Fatal().Msg(err.Error())
		}

		ynabToken, err := creds.Token(credentials.ServiceYNAB)
		if err != nil {
			log.Fatal().Msg(err.Error())
		}

		cfg.Source = upbank.New(upToken)
		cfg.Sink = ynab.New(ynabToken)
	}

	engine := sync.New(cfg)

	opts := sync.Options{
		Days:                 *days,
		DryRun:               *dryRun,
		Verbose:              *verbose,
		EnableCategorization: *categorize,
	}

	if *from != "" || *to != "" {
		start, err := time.Parse(time.DateOnly, *from)
		if err != nil {
			log.Fatal().Msgf("invalid -from date: %s", err)
		}

		end, err := time.Parse(time.DateOnly, *to)
		if err != nil {
			log.Fatal().Msgf("invalid -to date: %s", err)
		}

		opts.DateRange = &sync.DateRange{Start: start, End: end}
	}

	ctx := context.Background()

	switch mode {
	case "sync":
		run(engine.Sync(ctx, opts, *profile))

	case "retry":
		run(engine.RetryFailed(ctx, opts, *profile))

	case "cleanup":
		affected, err := engine.CleanupFailed(*profile)
		if err != nil {
			log.Fatal().Msg(err.Error())
		}
		fmt.Printf("removed %d failed transactions\n", affected)

	case "repair":
		affected, err := engine.RepairMismarkedSynced(*profile)
		if err != nil {
			log.Fatal().Msg(err.Error())
		}
		fmt.Printf("repaired %d mismarked transactions\n", affected)

	case "status":
		status, err := engine.Status(*profile)
		if err != nil {
			log.Fatal().Msg(err.Error())
		}

		encoded, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			log.Fatal().Msg(err.Error())
		}
		fmt.Println(string(encoded))

	case "serve":
		serve(engine, *listen)

	default:
		log.Fatal().Msgf("unknown mode %q, expected sync, retry, cleanup, repair, status or serve", mode)
	}
}

// run prints the outcome of a sync or retry run and exits non-zero when
// transactions failed, so schedulers notice.
func run(result *sync.Result, err error) {
	if err != nil {
		log.Fatal().Msg(err.Error())
	}

	fmt.Println(result.Summary())

	if result.Failed > 0 {
		os.Exit(1)
	}
}

func serve(engine *sync.Engine, listen string) {
	if err := sync.RegisterMetrics(); err != nil {
		log.Fatal().Msg(err.Error())
	}

	if err := router.RegisterPrometheusMetrics(); err != nil {
		log.Fatal().Msg(err.Error())
	}

	r, err := router.Config()
	if err != nil {
		log.Fatal().Msg(err.Error())
	}

	router.AttachRoutes(router.Controller{Service: engine}, r.Group(""))

	if err := r.Run(listen); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

func setupLogging() {
	// gin uses debug as the default mode, we use release for
	// security reasons
	ginMode, ok := os.LookupEnv("GIN_MODE")
	if !ok {
		gin.SetMode("release")
	} else {
		gin.SetMode(ginMode)
	}

	// Log format can be explicitly set.
	// If it is not set, it defaults to human readable for development
	// and JSON for release
	logFormat, ok := os.LookupEnv("LOG_FORMAT")
	output := io.Writer(os.Stdout)
	if (!ok && gin.IsDebugging()) || (ok && logFormat == "human") {
		output = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if gin.IsDebugging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(output).With().Timestamp().Logger()
}
