package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/matzehuels/fuseg/internal/server"
	"github.com/matzehuels/fuseg/pkg/observability"
	"github.com/matzehuels/fuseg/pkg/store"
)

// Store backends accepted by --store.
const (
	storeMemory = "memory"
	storeFile   = "file"
	storeMongo  = "mongo"
)

// serveOpts holds the command-line flags of the serve command.
type serveOpts struct {
	addr      string
	store     string
	storeDir  string
	mongoURI  string
	mongoDB   string
	recordTTL time.Duration
	maxBody   int64
	timeout   time.Duration
	metrics   bool
}

// serveCommand creates the serve command that runs the HTTP API.
func (c *CLI) serveCommand() *cobra.Command {
	var flags segmentFlags
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve segmentation over HTTP",
		Long: `Serve runs the HTTP API. Uploaded graphs are segmented with the configured
options and archived in the selected store so later requests can fetch them by
graph hash or run ID.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			base, err := flags.options(cmd)
			if err != nil {
				return err
			}
			runner, err := c.newRunner(ctx, &flags)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, runner.Close()) }()

			st, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, st.Close()) }()

			cfg := server.Config{
				Addr:           opts.addr,
				MaxBodyBytes:   opts.maxBody,
				RequestTimeout: opts.timeout,
				RecordTTL:      opts.recordTTL,
				Options:        base,
			}
			if opts.metrics {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				installMetrics(reg)
				defer observability.Reset()
				cfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
			}

			logger.Info("starting server", "store", opts.store, "metrics", opts.metrics)
			return server.New(runner, st, logger, cfg).ListenAndServe(ctx)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&opts.addr, "addr", server.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&opts.store, "store", storeMemory, "segmentation archive: memory, file, mongo")
	cmd.Flags().StringVar(&opts.storeDir, "store-dir", "", "directory for --store file (default $XDG_DATA_HOME/fuseg/segments)")
	cmd.Flags().StringVar(&opts.mongoURI, "mongo-uri", "", "MongoDB connection URI for --store mongo")
	cmd.Flags().StringVar(&opts.mongoDB, "mongo-db", "", "MongoDB database name")
	cmd.Flags().DurationVar(&opts.recordTTL, "record-ttl", store.DefaultTTL, "how long archived segmentations are kept")
	cmd.Flags().Int64Var(&opts.maxBody, "max-body", server.DefaultMaxBodyBytes, "maximum request body in bytes")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", server.DefaultRequestTimeout, "per-request timeout")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", true, "expose Prometheus metrics on /metrics")
	return cmd
}

// openStore opens the archive backend named by opts.store.
func openStore(ctx context.Context, opts serveOpts) (store.Store, error) {
	switch opts.store {
	case storeMemory:
		return store.NewMemoryStore(), nil
	case storeFile:
		return store.NewFileStore(opts.storeDir)
	case storeMongo:
		return store.NewMongoStore(ctx, store.MongoConfig{URI: opts.mongoURI, Database: opts.mongoDB})
	default:
		return nil, fmt.Errorf("unknown store %q (want %s, %s or %s)", opts.store, storeMemory, storeFile, storeMongo)
	}
}

// installMetrics routes every observability hook to collectors on reg.
func installMetrics(reg prometheus.Registerer) {
	hooks := observability.NewPrometheusHooks(reg)
	observability.SetSegmentHooks(hooks)
	observability.SetPipelineHooks(hooks)
	observability.SetCacheHooks(hooks)
	observability.SetHTTPHooks(hooks)
}
