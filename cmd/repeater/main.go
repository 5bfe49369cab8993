package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/esnunes/repeater/internal/config"
	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/repeater"
)

var rootCmd = &cobra.Command{
	Use:   "repeater",
	Short: "Repeatable structured fields for tree records",
	Long: `Repeater stores records as a tree and lets a record carry repeater
fields: ordered lists of structured items that are added, reordered, toggled
and removed from the edit page and saved with the record.

Examples:
  # Start the editor
  repeater serve --addr 127.0.0.1:8080

  # Create a record and print it
  repeater create page "Holiday photos"
  repeater show 4`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
	logFormat  string
	dataDir    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/repeater/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text|json")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding the database")

	rootCmd.AddCommand(serveCmd(), createCmd(), showCmd(), addCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every command needs: the configuration with flags applied
// and the process logger.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadApp() (*app, error) {
	path, optional := configPath, false
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
		optional = true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) dbPath() (string, error) {
	path, err := a.cfg.DBPath()
	if err != nil || path != "" {
		return path, err
	}
	return db.DBPath()
}

// openService opens the database at path and builds the repeater service on it.
func (a *app) openService(path string) (*sql.DB, *repeater.Service, error) {
	registry, err := a.cfg.Registry()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(path, repeater.CodecVersion)
	if err != nil {
		return nil, nil, err
	}
	auth := repeater.NewUserAuthorizer(a.cfg.ModelUsers())
	svc := repeater.NewService(db.NewQueries(database), registry, auth, a.logger)
	a.logger.Debug("database opened", "path", path)
	return database, svc, nil
}
