package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/andreyvit/localbase"
)

var (
	// Global flags
	configPath string
	dbPath     string
	logLevel   string
	codecName  string
	keyPrefix  string
	journalDir string
	verbose    bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "localbase",
	Short: "Inspect and edit a local backend emulation store",
	Long: `localbase works with the file an application uses in place of a hosted
backend: its tables, its signed-in session and its change history.

Data commands take a table name and filters in the form field=value, where
value is parsed as JSON when possible and as a plain string otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if !cmd.Flags().Changed("log-level") {
			if cfg, err := LoadConfig(configPath); err == nil && cfg.LogLevel != "" {
				level = cfg.LogLevel
			}
		}
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logger = newLogger(os.Stderr, lvl)
		slog.SetDefault(logger)
		return nil
	},
}

func newLogger(w *os.File, lvl slog.Level) *slog.Logger {
	ll := &slog.LevelVar{}
	ll.Set(lvl)
	return slog.New(tint.NewHandler(colorable.NewColorable(w), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(w.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Empty attrs are noise.
			switch v := a.Value.Any().(type) {
			case string:
				if v == "" {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
}

// loadConfig merges the config file with explicitly set flags.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB = dbPath
	}
	if flags.Changed("codec") {
		cfg.Codec = codecName
	}
	if flags.Changed("prefix") {
		cfg.KeyPrefix = keyPrefix
	}
	if flags.Changed("journal") {
		cfg.JournalDir = journalDir
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	return cfg, nil
}

func openClient(cmd *cobra.Command) (*localbase.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	codec, err := localbase.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	db, err := localbase.Open(cfg.DB, localbase.Options{
		Logger:     logger,
		Verbose:    cfg.Verbose,
		KeyPrefix:  cfg.KeyPrefix,
		Codec:      codec,
		JournalDir: cfg.JournalDir,
	})
	if err != nil {
		return nil, err
	}
	return localbase.NewClient(db, localbase.ClientOptions{
		Auth: localbase.AuthOptions{
			RedirectTo:  cfg.Auth.RedirectTo,
			TokenSecret: []byte(cfg.Auth.TokenSecret),
			TokenTTL:    cfg.Auth.TokenTTL,
		},
		Files: localbase.FileStorageOptions{
			Logger:    logger,
			Verbose:   cfg.Verbose,
			PublicURL: cfg.Storage.PublicURL,
		},
		Realtime: localbase.RealtimeOptions{
			Disabled: cfg.Realtime.Disabled,
		},
	}), nil
}

// withClient opens the store for the duration of f.
func withClient(cmd *cobra.Command, f func(c *localbase.Client) error) error {
	c, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	return f(c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "localbase.yaml", "YAML config file (ignored if missing)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "localbase.db", "Store file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&codecName, "codec", "json", "Row encoding (json or msgpack)")
	rootCmd.PersistentFlags().StringVar(&keyPrefix, "prefix", localbase.DefaultKeyPrefix, "Key prefix of every table")
	rootCmd.PersistentFlags().StringVar(&journalDir, "journal", "", "Change journal directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every operation")

	rootCmd.AddCommand(tablesCmd, selectCmd, insertCmd, updateCmd, deleteCmd, truncateCmd)
	rootCmd.AddCommand(sessionCmd, signInCmd, signOutCmd, updateUserCmd, verifyTokenCmd)
	rootCmd.AddCommand(uploadCmd, publicURLCmd, historyCmd)
}

func main() {
	start := time.Now()
	err := rootCmd.Execute()
	if logger != nil {
		logger.Debug("done", "elapsed", time.Since(start))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
