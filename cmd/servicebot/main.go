package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kompomir/servicebot/core/bootstrap"
	"github.com/kompomir/servicebot/core/buildinfo"
	corecmd "github.com/kompomir/servicebot/core/cmd"
	coreconfig "github.com/kompomir/servicebot/core/config"
	tg "github.com/kompomir/servicebot/core/telegram"
	"github.com/kompomir/servicebot/intake/app"
)

const defaultConfigPath = "config.yaml"

type cli struct {
	configPath string
}

func (c *cli) run(_ *cobra.Command, _ []string) error {
	return corecmd.Run(corecmd.Options{
		ConfigPath:        c.configPath,
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: defaultConfigPath,
		LoadConfig:        loadConfig,
		Bootstrap:         bootstrapApp,
	})
}

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	cfg, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func bootstrapApp(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg := carrier.CoreConfig()
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	bot, err := tg.NewBot(cfg)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	a, err := app.New(cfg, app.Options{Bot: bot, DB: infra.DB, Closer: infra})
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return a, nil
}

func main() {
	c := &cli{}
	root := &cobra.Command{
		Use:           "servicebot",
		Short:         "Telegram intake bot for repair, courier and cartridge requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}
	root.Flags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML config (falls back to $CONFIG_PATH, then "+defaultConfigPath+")")
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
