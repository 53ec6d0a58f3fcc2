package jobscmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/engram/pkg/cliui"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/conflict"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/extraction"
	extractollama "github.com/papercomputeco/engram/pkg/extraction/ollama"
	extractopenai "github.com/papercomputeco/engram/pkg/extraction/openai"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/priority"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/summary"
)

const processLongDesc string = `Extract the backlog of resources with no facts yet.

Works through pending resources in local storage using the configured
extraction provider (extraction.provider in config.toml, ENGRAM_EXTRACTION_*
environment variables).

Examples:
  engram jobs process
  engram jobs process --limit 10 --sqlite ./engram.db`

func newProcessCmd(cmder *jobsCommander) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract pending resources",
		Long:  processLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}

			return cmder.runProcess(cmd.Context(), v, limit)
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to SQLite database (default: auto-resolve)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum resources to process (default: one batch)")

	return cmd
}

func (c *jobsCommander) runProcess(ctx context.Context, v *viper.Viper, limit int) error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	driver, err := c.newStoreDriver()
	if err != nil {
		return err
	}
	defer driver.Close()

	extractor, extractorName, err := newExtractor(v)
	if err != nil {
		return err
	}

	registry := summary.NewRegistry(driver, &summary.Joiner{}, c.logger)
	retr := retrieval.NewEngine(driver, priority.NewRanker(priority.DefaultConfig()), registry, nil, nil, c.logger)

	eng, err := engine.New(engine.Options{
		Driver:        driver,
		Extractor:     extractor,
		ExtractorName: extractorName,
		Resolver:      conflict.NewResolver(driver, c.logger),
		Registry:      registry,
		Retrieval:     retr,
		Logger:        c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	n, err := eng.ProcessPending(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s processed %d pending resource(s)\n\n", cliui.Mark(nil), n)
	return nil
}

func newExtractor(v *viper.Viper) (extraction.Extractor, string, error) {
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
		return nil, "", fmt.Errorf("extraction.provider is \"none\"; configure a provider to process pending resources")

	default:
		return nil, "", fmt.Errorf("unsupported extraction provider: %s", provider)
	}
}
