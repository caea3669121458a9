package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/wcam-wk/nfcbot/bots"
	"github.com/wcam-wk/nfcbot/cache"
	"github.com/wcam-wk/nfcbot/nfc"
	"github.com/wcam-wk/nfcbot/wiki"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "nfcbot",
		Usage:   "non-free content policy enforcement bot",
		Version: versioninfo.Short(),
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "site-url",
			Usage:   "api.php or script path URL of the target wiki",
			Value:   "https://en.wikipedia.org/w/api.php",
			EnvVars: []string{"NFCBOT_SITE_URL"},
		},
		&cli.StringFlag{
			Name:    "user",
			Usage:   "bot account name, in User@botname form for bot passwords",
			EnvVars: []string{"NFCBOT_USER"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "bot account password",
			EnvVars: []string{"NFCBOT_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "edit-rate",
			Usage:   "max page saves per minute",
			Value:   6,
			EnvVars: []string{"NFCBOT_EDIT_RATE"},
		},
		&cli.StringFlag{
			Name:    "store-path",
			Usage:   "path of the template store (defaults to the user cache dir)",
			EnvVars: []string{"NFCBOT_STORE_PATH"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"NFCBOT_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}
	app.Commands = []*cli.Command{
		cmdListVios,
		cmdNfurFixer,
		cmdOrphanTagger,
		cmdReduceTagger,
		cmdRemoveVios,
		cmdCache,
	}
	return app.Run(args)
}

// sourceFlags select the candidate pages of a run. At least one must be
// given.
var sourceFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "page",
		Usage: "candidate page title (repeatable)",
	},
	&cli.StringFlag{
		Name:  "titles-file",
		Usage: "file with one candidate page title per line",
	},
	&cli.StringFlag{
		Name:  "category",
		Usage: "category whose members are the candidate pages",
	},
	&cli.BoolFlag{
		Name:  "recurse",
		Usage: "walk subcategories of --category",
	},
}

var botFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "always",
		Usage: "save edits without asking for confirmation",
	},
	&cli.StringFlag{
		Name:  "summary",
		Usage: "override the bot's edit summary",
	},
	&cli.IntFlag{
		Name:  "workers",
		Usage: "page text prefetch depth",
		Value: 4,
	},
	&cli.StringFlag{
		Name:    "metrics-listen",
		Usage:   "IP or address, and port, to listen on for metrics APIs",
		Value:   ":3998",
		EnvVars: []string{"NFCBOT_METRICS_LISTEN"},
	},
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var cmdListVios = &cli.Command{
	Name:      "list-vios",
	Usage:     "write a usage violations report for the candidate files",
	ArgsUsage: "<report-page>",
	Flags: flags([]cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "stop after this many violating files",
		},
	}, sourceFlags),
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected one argument, the report page title")
		}
		configLogger(cctx, os.Stdout)
		srcs, err := sources(cctx)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		site, err := dialSite(ctx, cctx)
		if err != nil {
			return err
		}
		target, err := wiki.ParseTitle(site.Namespaces(), cctx.Args().First())
		if err != nil {
			return fmt.Errorf("report page: %w", err)
		}
		checker, err := newChecker(ctx, cctx, site)
		if err != nil {
			return err
		}
		titles, err := resolveTitles(ctx, site, srcs)
		if err != nil {
			return err
		}
		return bots.WriteReport(ctx, site, checker, titles, target, cctx.Int("limit"))
	},
}

var cmdNfurFixer = &cli.Command{
	Name:  "nfur-fixer",
	Usage: "retarget stale use rationales after article moves",
	Flags: flags(botFlags, sourceFlags),
	Action: func(cctx *cli.Context) error {
		return runBot(cctx, func(site wiki.Site, checker *nfc.Checker) (bots.Bot, error) {
			return bots.NewNfurFixer(site, checker), nil
		})
	},
}

var cmdOrphanTagger = &cli.Command{
	Name:      "orphan-tagger",
	Usage:     "tag orphaned non-free files or file revisions for deletion",
	ArgsUsage: "<file|revision>",
	Flags:     flags(botFlags, sourceFlags),
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected one argument, the tagging mode (file or revision)")
		}
		mode := cctx.Args().First()
		return runBot(cctx, func(site wiki.Site, checker *nfc.Checker) (bots.Bot, error) {
			return bots.NewOrphanTagger(site, mode)
		})
	},
}

var cmdReduceTagger = &cli.Command{
	Name:  "reduce-tagger",
	Usage: "tag oversized non-free files for reduction",
	Flags: flags(botFlags, sourceFlags),
	Action: func(cctx *cli.Context) error {
		return runBot(cctx, func(site wiki.Site, checker *nfc.Checker) (bots.Bot, error) {
			return bots.NewReduceTagger(site), nil
		})
	},
}

var cmdRemoveVios = &cli.Command{
	Name:  "remove-vios",
	Usage: "remove violating non-free file uses from the candidate pages",
	// no --summary: the remover picks its summary per criterion
	Flags: flags([]cli.Flag{
		&cli.BoolFlag{
			Name:  "always",
			Usage: "save edits without asking for confirmation",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "page text prefetch depth",
			Value: 4,
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"NFCBOT_METRICS_LISTEN"},
		},
	}, sourceFlags),
	Action: func(cctx *cli.Context) error {
		return runBot(cctx, func(site wiki.Site, checker *nfc.Checker) (bots.Bot, error) {
			return bots.NewFileRemover(site, checker), nil
		})
	},
}

var cmdCache = &cli.Command{
	Name:  "cache",
	Usage: "manage the template title store",
	Subcommands: []*cli.Command{
		&cli.Command{
			Name:  "build",
			Usage: "rebuild the store from the live site",
			Action: func(cctx *cli.Context) error {
				configLogger(cctx, os.Stdout)
				ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				site, err := dialSite(ctx, cctx)
				if err != nil {
					return err
				}
				store, err := openStore(cctx)
				if err != nil {
					return err
				}
				return cache.Build(ctx, site, store)
			},
		},
		&cli.Command{
			Name:  "clear",
			Usage: "empty the store",
			Action: func(cctx *cli.Context) error {
				configLogger(cctx, os.Stdout)
				store, err := openStore(cctx)
				if err != nil {
					return err
				}
				return store.Clear()
			},
		},
	},
}

// runBot is the shared bot-run path: resolve candidates, dial the site,
// build the checker and drive the runner, with the metrics endpoint up for
// the duration.
func runBot(cctx *cli.Context, build func(wiki.Site, *nfc.Checker) (bots.Bot, error)) error {
	logger := configLogger(cctx, os.Stdout)
	srcs, err := sources(cctx)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupOTEL(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	site, err := dialSite(ctx, cctx)
	if err != nil {
		return err
	}
	checker, err := newChecker(ctx, cctx, site)
	if err != nil {
		return err
	}
	bot, err := build(site, checker)
	if err != nil {
		return err
	}
	titles, err := resolveTitles(ctx, site, srcs)
	if err != nil {
		return err
	}
	logger.Info("starting run", "bot", bot.Name(), "candidates", len(titles))

	go func() {
		if err := runMetrics(cctx.String("metrics-listen")); err != nil {
			logger.Error("failed to start metrics endpoint", "err", err)
			os.Exit(1)
		}
	}()

	runner := &bots.Runner{
		Site:    site,
		Checker: checker,
		Bot:     bot,
		Logger:  logger,
		Always:  cctx.Bool("always"),
		Summary: cctx.String("summary"),
		Workers: cctx.Int("workers"),
	}
	return runner.Run(ctx, titles)
}

// sources builds the candidate title sources from the selection flags.
// Running with no selection at all is a usage error, not an empty run.
func sources(cctx *cli.Context) ([]wiki.Source, error) {
	var srcs []wiki.Source
	if pages := cctx.StringSlice("page"); len(pages) > 0 {
		srcs = append(srcs, wiki.FromTitles(pages...))
	}
	if path := cctx.String("titles-file"); path != "" {
		srcs = append(srcs, wiki.FromFile(path))
	}
	if cat := cctx.String("category"); cat != "" {
		srcs = append(srcs, wiki.FromCategory(cat, cctx.Bool("recurse")))
	}
	if len(srcs) == 0 {
		return nil, fmt.Errorf("no candidate pages: pass --page, --titles-file or --category")
	}
	return srcs, nil
}

func resolveTitles(ctx context.Context, site wiki.Site, srcs []wiki.Source) ([]wiki.Title, error) {
	var titles []wiki.Title
	for _, src := range srcs {
		batch, err := src(ctx, site)
		if err != nil {
			return nil, err
		}
		titles = append(titles, batch...)
	}
	return wiki.UniqueTitles(titles), nil
}

// page metadata cache bounds for one run; saves purge their own entries
const (
	pageCacheSize = 50_000
	pageCacheTTL  = 10 * time.Minute
)

// dialSite connects to the configured wiki, logging in when credentials
// are set, and wraps the connection in a read-through metadata cache.
func dialSite(ctx context.Context, cctx *cli.Context) (wiki.Site, error) {
	host := strings.TrimSuffix(cctx.String("site-url"), "/api.php")
	client := wiki.NewClient(host)
	if epm := cctx.Int("edit-rate"); epm > 0 {
		client.Limiter = rate.NewLimiter(rate.Limit(float64(epm)/60), 1)
	}
	if user := cctx.String("user"); user != "" {
		if err := client.Login(ctx, user, cctx.String("password")); err != nil {
			return nil, err
		}
	}
	api, err := wiki.NewAPISite(ctx, client)
	if err != nil {
		return nil, err
	}
	return wiki.NewCacheSite(api, pageCacheSize, pageCacheTTL), nil
}

func openStore(cctx *cli.Context) (*cache.Store, error) {
	path := cctx.String("store-path")
	if path == "" {
		var err error
		path, err = cache.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return cache.Open(path)
}

// newChecker builds the violation checker over the stored rationale
// template titles, building the store first on a fresh install.
func newChecker(ctx context.Context, cctx *cli.Context, site wiki.Site) (*nfc.Checker, error) {
	store, err := openStore(cctx)
	if err != nil {
		return nil, err
	}
	entries, err := cache.Ensure(ctx, site, store)
	if err != nil {
		return nil, err
	}
	return nfc.NewChecker(site, entries[nfc.NfurTemplateCategory])
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

func runMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// setupOTEL enables the OTLP HTTP trace exporter.
// For relevant environment variables:
// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
// At a minimum, you need to set
// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
func setupOTEL(ctx context.Context) (func(), error) {
	ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if ep == "" {
		return func() {}, nil
	}
	slog.Info("setting up trace exporter", "endpoint", ep)
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("nfcbot"),
			attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
			attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
			attribute.Int64("ID", 1),
		)),
	)
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := exp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "err", err)
		}
	}, nil
}
