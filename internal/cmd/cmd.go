package cmd

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/clambin/go-common/charmer"
	"github.com/clambin/irrigator/internal/cmd/config"
	"github.com/clambin/irrigator/internal/cmd/run"
	"github.com/clambin/irrigator/internal/configuration"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "irrigator",
		Short: "automated soil irrigation controller",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	_ = charmer.SetPersistentFlags(&RootCmd, viper.GetViper(), configuration.Arguments())

	RootCmd.AddCommand(&run.Cmd, &config.Cmd)
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/irrigator/")
		viper.AddConfigPath("$HOME/.irrigator")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), configuration.Arguments()); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("IRRIGATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFilename != "" || !errors.As(err, &notFound) {
			slog.Error("failed to read config file", "err", err)
			os.Exit(1)
		}
		slog.Warn("no config file found. using defaults")
	}
}
