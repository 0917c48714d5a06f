package main

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dagflow/internal/config"
	"dagflow/modules/featurestore"
	"dagflow/modules/summarization"
	"dagflow/nodes"
)

// cli carries state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  hclog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "dagflow",
		Short:         "Dependency-driven dataflow runner",
		Long:          `dagflow resolves requested outputs to the minimal set of nodes that produce them and runs those nodes, over HTTP or from the command line.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "config file (default: ./dagflow.yaml)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newServeCmd(c), newExecuteCmd(c), newNodesCmd(c))
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = hclog.New(&hclog.LoggerOptions{
		Name:       "dagflow",
		Level:      hclog.LevelFromString(cfg.Log.Level),
		JSONFormat: cfg.Log.Format == "json",
		Output:     cmd.ErrOrStderr(),
	})
	if used := c.v.ConfigFileUsed(); used != "" {
		c.logger.Debug("loaded config", "file", used)
	}
	return nil
}

func (c *cli) summarizer() summarization.Summarizer {
	opts := summarization.DefaultOpenAIOptions()
	if c.cfg.OpenAI.RequestsPerSecond > 0 {
		opts.RequestsPerSecond = c.cfg.OpenAI.RequestsPerSecond
	}
	s := summarization.NewOpenAISummarizer(summarization.NewClient(c.cfg.OpenAI.APIKey, c.cfg.OpenAI.BaseURL), opts)
	if s.Mock() {
		c.logger.Warn("openai api key not set, completions are mocked")
	}
	return s
}

// opener points the feature store at the configured remote server when one
// is set. A server_url in the request's feast_config still wins.
func (c *cli) opener() featurestore.Opener {
	serverURL := c.cfg.FeatureStore.ServerURL
	if serverURL == "" {
		return featurestore.DefaultOpener
	}
	return func(ctx context.Context, repoPath string, cfg map[string]any) (featurestore.Client, error) {
		merged := map[string]any{"server_url": serverURL}
		for k, v := range cfg {
			merged[k] = v
		}
		return featurestore.DefaultOpener(ctx, repoPath, merged)
	}
}

func (c *cli) completionPolicy() summarization.ModuleOption {
	return summarization.WithCompletionPolicy(nodes.Attributes{
		RetryAttempts: c.cfg.OpenAI.Retries,
		RetryDelay:    c.cfg.OpenAI.RetryDelay,
		Timeout:       c.cfg.OpenAI.Timeout,
	})
}

func (c *cli) modules() []nodes.Module {
	return []nodes.Module{
		summarization.Module(c.summarizer(), c.completionPolicy()),
		featurestore.Module(c.opener()),
	}
}
