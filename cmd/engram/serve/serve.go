// Package servecmder provides the serve command for running the engram
// memory server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/api"
	mcpapi "github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/conflict"
	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/engram/pkg/embeddings/utils"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	eventkafka "github.com/papercomputeco/engram/pkg/eventstream/kafka"
	eventnop "github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/extraction"
	extractollama "github.com/papercomputeco/engram/pkg/extraction/ollama"
	extractopenai "github.com/papercomputeco/engram/pkg/extraction/openai"
	"github.com/papercomputeco/engram/pkg/jobs"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/priority"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/store"
	storemem "github.com/papercomputeco/engram/pkg/store/inmemory"
	storepg "github.com/papercomputeco/engram/pkg/store/postgres"
	storesqlite "github.com/papercomputeco/engram/pkg/store/sqlite"
	"github.com/papercomputeco/engram/pkg/summary"
	summaryopenai "github.com/papercomputeco/engram/pkg/summary/openai"
	"github.com/papercomputeco/engram/pkg/vector"
	vectorutils "github.com/papercomputeco/engram/pkg/vector/utils"
)

type ServeCommander struct {
	listen          string
	storageProvider string
	sqlitePath      string
	postgresDSN     string
	vectorProvider  string
	vectorTarget    string
	embedProvider   string
	embedTarget     string
	embedModel      string
	embedDims       uint
	extractProvider string
	extractTarget   string
	extractModel    string
	noMCP           bool

	debug     bool
	configDir string
	viper     *viper.Viper
	logger    *zap.Logger
}

// serveFlags is the flag registry for the serve command. Defaults come from
// viper (config file, environment, built-in defaults) so the --help output
// reflects the effective configuration.
var serveFlags = config.FlagSet{
	config.FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	config.FlagStorageProvider: {Name: "storage-provider", ViperKey: "storage.provider", Description: "Fact store provider (sqlite, postgres, inmemory)"},
	config.FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to the SQLite database"},
	config.FlagPostgresDSN:     {Name: "postgres-dsn", ViperKey: "storage.postgres_dsn", Description: "Postgres connection string"},
	config.FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store provider (sqlite, postgres, inmemory, none)"},
	config.FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store target (path or connection string)"},
	config.FlagEmbeddingProv:   {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, openai, none)"},
	config.FlagEmbeddingTgt:    {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider base URL"},
	config.FlagEmbeddingModel:  {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	config.FlagEmbeddingDims:   {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding vector dimensions"},
	config.FlagExtractionProv:  {Name: "extraction-provider", ViperKey: "extraction.provider", Description: "Fact extraction provider (ollama, openai, none)"},
	config.FlagExtractionTgt:   {Name: "extraction-target", ViperKey: "extraction.target", Description: "Extraction provider base URL"},
	config.FlagExtractionModel: {Name: "extraction-model", ViperKey: "extraction.model", Description: "Extraction model name"},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageProvider,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagExtractionProv,
	config.FlagExtractionTgt,
	config.FlagExtractionModel,
}

const serveLongDesc string = `Run the engram memory server.

Starts the HTTP API for ingesting resources, extracting facts, and serving
memory context, with the MCP endpoint mounted at /mcp for agent access.

Configuration comes from flags, ENGRAM_* environment variables, and the
config.toml in the .engram/ directory, in that order of precedence.

Examples:
  engram serve
  engram serve --listen :9090 --storage-provider inmemory
  engram serve --extraction-provider openai --embedding-provider openai`

const serveShortDesc string = "Run the engram memory server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cmder.configDir = configDir

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, serveFlags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, serveFlags, config.FlagExtractionProv, &cmder.extractProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagExtractionTgt, &cmder.extractTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagExtractionModel, &cmder.extractModel)
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP endpoint")

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	v := c.viper

	driver, err := c.newStoreDriver(ctx, v)
	if err != nil {
		return err
	}
	defer driver.Close()

	vectors, embedder, err := c.newVectorAndEmbedder(ctx, v)
	if err != nil {
		return err
	}

	extractor, extractorName, err := c.newExtractor(v)
	if err != nil {
		return err
	}

	summarizer, err := c.newSummarizer(v)
	if err != nil {
		return err
	}

	publisher, err := c.newPublisher(v)
	if err != nil {
		return err
	}

	rankerCfg, err := loadPriorityConfig(v)
	if err != nil {
		return err
	}
	nightlyCfg, weeklyCfg, monthlyCfg, err := loadJobConfigs(v)
	if err != nil {
		return err
	}

	registry := summary.NewRegistry(driver, summarizer, c.logger)
	resolver := conflict.NewResolver(driver, c.logger)
	ranker := priority.NewRanker(rankerCfg)
	retrievalEngine := retrieval.NewEngine(driver, ranker, registry, embedder, vectors, c.logger)

	runner := jobs.NewRunner(c.logger)
	runner.Register(jobs.NewNightly(driver, registry, nightlyCfg, c.logger))
	runner.Register(jobs.NewWeekly(driver, registry, weeklyCfg, c.logger))
	if embedder != nil && vectors != nil {
		runner.Register(jobs.NewMonthly(driver, embedder, vectors, monthlyCfg, c.logger))
	}

	eng, err := engine.New(engine.Options{
		Driver:        driver,
		Extractor:     extractor,
		ExtractorName: extractorName,
		Resolver:      resolver,
		Registry:      registry,
		Retrieval:     retrievalEngine,
		Embedder:      embedder,
		Vectors:       vectors,
		Publisher:     publisher,
		Runner:        runner,
		Logger:        c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer eng.Close()

	mcpServer, err := mcpapi.NewServer(mcpapi.Config{
		Engine: eng,
		Noop:   c.noMCP,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	apiConfig := api.Config{
		ListenAddr: c.listen,
		EnableMCP:  !c.noMCP,
	}
	apiServer := api.NewServer(apiConfig, eng, mcpServer.Handler(), c.logger)
	defer func() { _ = apiServer.Shutdown() }()

	c.logger.Info("starting engram server",
		zap.String("listen", c.listen),
		zap.String("extractor", extractorName),
		zap.Bool("mcp", !c.noMCP),
	)

	errChan := make(chan error, 1)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}

// loadPriorityConfig reads the [priority] section over the default ranking
// constants. Keys absent from the config keep their defaults.
func loadPriorityConfig(v *viper.Viper) (priority.Config, error) {
	cfg := priority.DefaultConfig()
	if err := v.UnmarshalKey("priority", &cfg); err != nil {
		return cfg, fmt.Errorf("loading priority config: %w", err)
	}
	return cfg, nil
}

// loadJobConfigs reads the [jobs.nightly], [jobs.weekly], and [jobs.monthly]
// sections over the default job tunables.
func loadJobConfigs(v *viper.Viper) (jobs.NightlyConfig, jobs.WeeklyConfig, jobs.MonthlyConfig, error) {
	nightly := jobs.DefaultNightlyConfig()
	weekly := jobs.DefaultWeeklyConfig()
	monthly := jobs.DefaultMonthlyConfig()

	if err := v.UnmarshalKey("jobs.nightly", &nightly); err != nil {
		return nightly, weekly, monthly, fmt.Errorf("loading nightly job config: %w", err)
	}
	if err := v.UnmarshalKey("jobs.weekly", &weekly); err != nil {
		return nightly, weekly, monthly, fmt.Errorf("loading weekly job config: %w", err)
	}
	if err := v.UnmarshalKey("jobs.monthly", &monthly); err != nil {
		return nightly, weekly, monthly, fmt.Errorf("loading monthly job config: %w", err)
	}
	return nightly, weekly, monthly, nil
}

func (c *ServeCommander) newStoreDriver(ctx context.Context, v *viper.Viper) (store.Driver, error) {
	provider := v.GetString("storage.provider")

	switch provider {
	case "sqlite", "":
		path := v.GetString("storage.sqlite_path")
		if path == "" {
			var err error
			path, err = c.defaultSQLitePath()
			if err != nil {
				return nil, err
			}
		}
		driver, err := storesqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return driver, nil

	case "postgres":
		dsn := v.GetString("storage.postgres_dsn")
		if dsn == "" {
			return nil, fmt.Errorf("storage.postgres_dsn must be set for the postgres provider")
		}
		driver, err := storepg.NewDriver(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		c.logger.Info("using Postgres storage")
		return driver, nil

	case "inmemory":
		c.logger.Info("using in-memory storage")
		return storemem.NewDriver(), nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", provider)
	}
}

// defaultSQLitePath places the database inside the resolved .engram directory,
// creating ~/.engram when no local directory exists.
func (c *ServeCommander) defaultSQLitePath() (string, error) {
	ddm := dotdir.NewManager()
	targetDir, err := ddm.Target(c.configDir)
	if err != nil {
		return "", fmt.Errorf("resolving target dir: %w", err)
	}
	if targetDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		targetDir = filepath.Join(home, ".engram")
		if err := os.MkdirAll(targetDir, 0o755); err != nil {
			return "", fmt.Errorf("creating engram dir: %w", err)
		}
	}
	return filepath.Join(targetDir, "engram.db"), nil
}

func (c *ServeCommander) newVectorAndEmbedder(ctx context.Context, v *viper.Viper) (vector.Driver, embeddings.Embedder, error) {
	vectorProvider := v.GetString("vector_store.provider")
	embedProvider := v.GetString("embedding.provider")

	if vectorProvider == "none" || embedProvider == "none" {
		c.logger.Info("similarity retrieval disabled")
		return nil, nil, nil
	}

	vectorTarget := v.GetString("vector_store.target")
	if vectorTarget == "" && vectorProvider == "sqlite" {
		var err error
		vectorTarget, err = c.defaultSQLitePath()
		if err != nil {
			return nil, nil, err
		}
	}

	vectorDriver, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
		ProviderType: vectorProvider,
		Target:       vectorTarget,
		Dimensions:   v.GetUint("embedding.dimensions"),
		Logger:       c.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating vector driver: %w", err)
	}

	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: embedProvider,
		TargetURL:    v.GetString("embedding.target"),
		Model:        v.GetString("embedding.model"),
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		Dimensions:   int(v.GetUint("embedding.dimensions")),
	})
	if err != nil {
		vectorDriver.Close()
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	return vectorDriver, embedder, nil
}

func (c *ServeCommander) newExtractor(v *viper.Viper) (extraction.Extractor, string, error) {
	provider := v.GetString("extraction.provider")

	switch provider {
	case "openai":
		ext, err := extractopenai.New(extractopenai.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   v.GetString("extraction.model"),
			BaseURL: v.GetString("extraction.target"),
		})
		if err != nil {
			return nil, "", fmt.Errorf("creating openai extractor: %w", err)
		}
		return ext, "openai/" + v.GetString("extraction.model"), nil

	case "ollama", "":
		ext := extractollama.New(extractollama.Config{
			BaseURL: v.GetString("extraction.target"),
			Model:   v.GetString("extraction.model"),
		})
		return ext, "ollama/" + v.GetString("extraction.model"), nil

	case "none":
		c.logger.Info("fact extraction disabled")
		return nil, "", nil

	default:
		return nil, "", fmt.Errorf("unsupported extraction provider: %s", provider)
	}
}

func (c *ServeCommander) newSummarizer(v *viper.Viper) (summary.Summarizer, error) {
	provider := v.GetString("summary.provider")

	switch provider {
	case "openai":
		s, err := summaryopenai.New(summaryopenai.Config{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  v.GetString("summary.model"),
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai summarizer: %w", err)
		}
		return s, nil

	case "joiner", "":
		return &summary.Joiner{}, nil

	default:
		return nil, fmt.Errorf("unsupported summary provider: %s", provider)
	}
}

func (c *ServeCommander) newPublisher(v *viper.Viper) (eventstream.Publisher, error) {
	provider := v.GetString("eventstream.provider")

	switch provider {
	case "kafka":
		pub, err := eventkafka.NewPublisher(eventkafka.Config{
			Brokers: v.GetStringSlice("eventstream.brokers"),
			Topic:   v.GetString("eventstream.topic"),
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		c.logger.Info("publishing fact events to kafka",
			zap.Strings("brokers", v.GetStringSlice("eventstream.brokers")),
			zap.String("topic", v.GetString("eventstream.topic")),
		)
		return pub, nil

	case "none", "":
		return eventnop.NewPublisher(), nil

	default:
		return nil, fmt.Errorf("unsupported eventstream provider: %s", provider)
	}
}
