// Command hark is the voice activation daemon: it listens for a wake sound,
// records the following utterance and hands it to a transcription and
// command backend.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.design/x/hotkey/mainthread"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "hark.yaml"

func main() {
	code := 0
	// Global hotkeys on macOS must be serviced from the main thread.
	mainthread.Init(func() {
		if err := newRootCmd().Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "hark: %v\n", err)
			code = 1
		}
	})
	os.Exit(code)
}

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "hark",
		Short: "Wake-sound activated voice command capture",
		Long: `hark listens to a microphone for a wake sound, records the utterance that
follows until the speaker falls silent, and submits it for transcription
and command recognition.

Examples:
  hark run                       # start the daemon with ./hark.yaml
  hark run --config /etc/hark.yaml
  hark devices                   # list capture devices
  hark replay recording.wav      # run the pipeline against a file
  hark config validate`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (default ./"+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newDevicesCmd(),
		newReplayCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// loadConfig reads the configuration named by --config. Without the flag a
// missing default file yields the built-in defaults.
func loadConfig(opts *options) (*config.Config, string, error) {
	path := opts.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		cfg, err = config.LoadFromReader(strings.NewReader(""))
		if err != nil {
			return nil, "", err
		}
		path = ""
	case errors.Is(err, os.ErrNotExist):
		return nil, "", fmt.Errorf("config file %q not found", path)
	default:
		return nil, "", err
	}

	if opts.logLevel != "" {
		lvl := config.LogLevel(opts.logLevel)
		if !lvl.IsValid() {
			return nil, "", fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", opts.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	return cfg, path, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger on w whose level can be changed later
// through the returned LevelVar.
func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.LogLevel(level))
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), lv
}
