package config

import (
	"fmt"

	"github.com/clambin/irrigator/internal/configuration"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var Cmd = cobra.Command{
	Use:   "config",
	Short: "show the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := configuration.FromViper(viper.GetViper())
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		e := yaml.NewEncoder(cmd.OutOrStdout())
		defer func() { _ = e.Close() }()
		return ShowConfig(cfg, e)
	},
}

type Encoder interface {
	Encode(any) error
}

const redacted = "********"

// ShowConfig encodes the configuration, with secrets redacted.
func ShowConfig(cfg configuration.Configuration, e Encoder) error {
	if cfg.Slack.Token != "" {
		cfg.Slack.Token = redacted
	}
	if cfg.MQTT.Password != "" {
		cfg.MQTT.Password = redacted
	}
	return e.Encode(cfg)
}
