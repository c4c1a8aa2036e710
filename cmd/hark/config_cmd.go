package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hark/internal/config"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return printEffective(cmd.OutOrStdout(), cfg, path)
		},
	}

	defaults := &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeYAML(cmd.OutOrStdout(), config.Defaults())
		},
	}

	cmd.AddCommand(validate, defaults)
	return cmd
}

// printEffective reports which file was loaded and the settings after
// defaults, inference and clamping.
func printEffective(w io.Writer, cfg *config.Config, path string) error {
	if path == "" {
		path = "(built-in defaults)"
	}
	fmt.Fprintf(w, "# %s is valid\n", path)
	detection, adjusted := cfg.Detection.Clamp()
	for _, field := range adjusted {
		fmt.Fprintf(w, "# detection.%s is out of range and will be clamped\n", field)
	}
	cfg.Detection = detection
	redact(&cfg.Providers)
	return writeYAML(w, cfg)
}

// redact masks API keys in place.
func redact(p *config.ProvidersConfig) {
	mask := func(e *config.ProviderEntry) {
		if e.APIKey != "" {
			e.APIKey = "********"
		}
	}
	mask(&p.Audio)
	mask(&p.VAD)
	mask(&p.STT)
	mask(&p.LLM)
	for i := range p.STTFallbacks {
		mask(&p.STTFallbacks[i])
	}
	for i := range p.LLMFallbacks {
		mask(&p.LLMFallbacks[i])
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
