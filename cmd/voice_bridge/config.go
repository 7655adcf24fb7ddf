package main

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/voice_bridge/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig(configFile, cmd.OutOrStdout())
	},
}

func runConfig(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	redact(cfg)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// redact скрывает ключи API и пароль почты в выводе
func redact(cfg *config.Config) {
	for _, key := range []*string{&cfg.STT.APIKey, &cfg.TTS.APIKey, &cfg.Weather.APIKey, &cfg.TomTom.APIKey, &cfg.Email.Password} {
		if *key != "" {
			*key = "********"
		}
	}
}
