// Command indexer is the minimal entry point that loads Config and
// hands off to the ingestion engine stack: it does not itself parse
// flags beyond -dir (CLI argument parsing proper is an external
// collaborator per spec §1), mirroring how thin the teacher's
// cmd/api/main.go entry point is relative to the stack it boots.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cairoindex/chainindexer/pkg/config"
	indexererrors "github.com/cairoindex/chainindexer/pkg/errors"
	"github.com/cairoindex/chainindexer/pkg/eventstore"
	"github.com/cairoindex/chainindexer/pkg/ingest"
	"github.com/cairoindex/chainindexer/pkg/logging"
	"github.com/cairoindex/chainindexer/pkg/metrics"
	"github.com/cairoindex/chainindexer/pkg/model"
	"github.com/cairoindex/chainindexer/pkg/rpcclient"
	"github.com/cairoindex/chainindexer/pkg/statusapi"
	"github.com/cairoindex/chainindexer/pkg/subscribe"
)

// version is set by the release build; left "dev" for local builds.
var version = "dev"

func main() {
	flagDirPath := flag.String("dir", "${HOME}/.chainindexer", "Directory where the configuration and DB exist")
	flag.Parse()
	dirPath := os.ExpandEnv(*flagDirPath)
	_ = os.MkdirAll(dirPath, 0o755)

	cfg, err := config.Load(dirPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	logging.SetupLogger(version, cfg.Log.Debug, cfg.Log.Human)

	if err := metrics.SetupInstrumentation(":"+cfg.Metrics.Port, "chainindexer"); err != nil {
		log.Fatal().Err(err).Str("port", cfg.Metrics.Port).Msg("could not setup instrumentation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("running indexer")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := eventstore.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening event store: %s", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("closing event store")
		}
	}()

	bus := subscribe.New(subscribe.DefaultChannelCapacity)

	engines := make([]*ingest.Engine, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		engine, err := buildEngine(ctx, chain, store, bus)
		if err != nil {
			return fmt.Errorf("building engine for %s: %s", chain.ContractAddress, err)
		}
		engines = append(engines, engine)
	}

	manager := ingest.NewManager(engines...)

	statusSrv, err := startStatusServer(cfg, manager, store)
	if err != nil {
		return fmt.Errorf("starting status server: %s", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = statusSrv.Shutdown(shutdownCtx)
	}()

	return manager.Run(ctx)
}

func buildEngine(
	ctx context.Context,
	chain config.ChainConfig,
	store *eventstore.Store,
	bus *subscribe.Bus,
) (*ingest.Engine, error) {
	address := model.NormalizeAddress(chain.ContractAddress)
	if chain.ContractAddress == "" {
		return nil, &indexererrors.ConfigError{Field: "contract_address", Reason: "must not be empty"}
	}
	if chain.RPCURL == "" {
		return nil, &indexererrors.ConfigError{Field: "rpc_url", Reason: "must not be empty"}
	}

	client, err := rpcclient.New(ctx, chain.RPCURL, rpcclient.WithMaxRetries(chain.MaxRetries))
	if err != nil {
		return nil, fmt.Errorf("connecting rpc client: %s", err)
	}

	opts := []ingest.Option{
		ingest.WithStartBlock(chain.StartBlock),
		ingest.WithChunkSize(chain.ChunkSize),
		ingest.WithSyncInterval(time.Duration(chain.SyncIntervalSec) * time.Second),
		ingest.WithMaxRetries(chain.MaxRetries),
		ingest.WithEventTypes(chain.EventTypes),
		ingest.WithEventKeys(toFieldElements(chain.EventKeys)),
	}
	cfg := ingest.DefaultConfig(address)
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, fmt.Errorf("applying ingest option: %s", err)
		}
	}

	return ingest.New(client, store, bus, cfg)
}

func toFieldElements(raw []string) []model.FieldElement {
	out := make([]model.FieldElement, len(raw))
	for i, s := range raw {
		out[i] = model.FieldElement(s)
	}
	return out
}

func startStatusServer(
	cfg *config.Config,
	manager *ingest.Manager,
	exporter statusapi.SnapshotExporter,
) (*http.Server, error) {
	interval, err := time.ParseDuration(cfg.Status.RateLimInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing status.rate_lim_interval: %s", err)
	}
	router, err := statusapi.Router(manager, exporter, cfg.Status.MaxRequestPerInterval, interval)
	if err != nil {
		return nil, fmt.Errorf("building status router: %s", err)
	}
	srv := &http.Server{Addr: ":" + cfg.Status.Port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server closed unexpectedly")
		}
	}()
	return srv, nil
}
