package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:         "find <file_name>",
	Short:       "Show every recorded mask generated for a source image",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, fileName string) error {
	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	masks, err := DB.FindMasks(ctx, fileName)
	if err != nil {
		utils.ShowError("Database search failed", err)
		return err
	}

	if len(masks) == 0 {
		fmt.Printf("❌ No masks recorded for %s.\n", fileName)
		return nil
	}
	fmt.Printf("✅ Found %d mask(s) for %s\n", len(masks), fileName)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nRUN\tPOLICY\tMASK\tSIZE\tCLASSES\tANNS\tSKIPPED\tCREATED")
	fmt.Fprintln(w, "---\t------\t----\t----\t-------\t----\t-------\t-------")
	for _, m := range masks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%v\t%d\t%d\t%s\n",
			m.RunID.String()[:8],
			m.Policy,
			filepath.Join(m.OutputDir, filepath.FromSlash(m.MaskName)),
			m.Width, m.Height,
			m.Classes,
			m.Composited,
			m.Skipped+m.DecodeFailures,
			m.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
	return nil
}
