package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/cocomask/internal/config"
	"github.com/andresmejia3/cocomask/internal/store"
	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// dbAnnotation tells the root pre-run whether a command talks to Postgres.
const dbAnnotation = "cocomask/db"

const (
	dbNone     = ""
	dbOptional = "optional"
	dbRequired = "required"
)

var (
	// DB is the global database connection shared by subcommands.
	// It stays nil when no connection string could be resolved.
	DB *store.Store
	// Cfg holds the values from --config (or the defaults)
	Cfg = config.Default()

	dbURL   string
	cfgFile string
	logMode string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "cocomask",
	Short:   "Generate multi-class segmentation masks from COCO annotations",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		Cfg = cfg

		mode := Cfg.LogMode
		if cmd.Flags().Changed("log-mode") {
			mode = logMode
		}
		if err := utils.InitLogger(mode); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		need := cmd.Annotations[dbAnnotation]
		if need == dbNone {
			return nil
		}

		url := resolveDBURL()
		if url == "" {
			if need == dbRequired {
				return fmt.Errorf("no database configured: pass --db, set db in the config file, or set POSTGRES_HOST")
			}
			utils.Logger.Debug("no database configured, run will not be recorded")
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		utils.Sync()
	},
}

// resolveDBURL picks the connection string: --db, then the config file,
// then the POSTGRES_* environment. Empty means no database.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	if Cfg.DB != "" {
		return Cfg.DB
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return ""
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		utils.Logger.Debug("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for run records (default: POSTGRES_* env vars)")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "debug", "Log format: 'debug' (console) or 'release' (JSON)")
}
