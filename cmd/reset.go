package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/cocomask/internal/cache"
	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetCache  bool
	resetOutput string
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (run records, cache, generated masks)",
	Long:        "Clears stored state. Without flags it clears the run records and the cache. Generated masks are only removed when --output-dir is given.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing the stored state
		if !resetDB && !resetCache && resetOutput == "" {
			resetDB = true
			resetCache = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool { return resetYes || confirm(reader, os.Stdout, prompt) }

		if resetDB {
			if DB == nil {
				fmt.Println("⏭️  No database configured, skipping run records.")
			} else if ask("⚠️  Are you sure you want to DROP all run records?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err)
					return err
				}
			}
		}

		if resetCache {
			if Cfg.Cache.Addr == "" {
				fmt.Println("⏭️  No cache configured, skipping.")
			} else if ask("⚠️  Are you sure you want to flush the mask cache?") {
				if err := flushCache(cmd.Context()); err != nil {
					utils.ShowError("Failed to flush cache", err)
					return err
				}
			}
		}

		if resetOutput != "" {
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete %s and every mask in it?", resetOutput)) {
				fmt.Println("🗑️  Clearing Generated Masks...")
				removeDir(resetOutput)
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "records", false, "Clear PostgreSQL run records")
	resetCmd.Flags().BoolVar(&resetCache, "cache", false, "Flush the Redis incremental-build cache")
	resetCmd.Flags().StringVar(&resetOutput, "output-dir", "", "Delete this mask output directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func flushCache(ctx context.Context) error {
	c, err := cache.Dial(cache.Config{
		Addr:     Cfg.Cache.Addr,
		Password: Cfg.Cache.Password,
		DB:       Cfg.Cache.DB,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := c.Flush(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("🗑️  Removed %d cache entries.\n", n)
	return nil
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
