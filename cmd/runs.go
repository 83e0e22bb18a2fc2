package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List recorded generate runs",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		runs, err := DB.ListRuns(cmd.Context())
		if err != nil {
			utils.ShowError("Failed to list runs", err)
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTATUS\tPOLICY\tMASKS\tSTARTED\tDATASET\tOUTPUT")
		fmt.Fprintln(w, "---\t------\t------\t-----\t-------\t-------\t------")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				r.ID.String()[:8], r.Status, r.Policy, r.Written,
				r.StartedAt.Local().Format("2006-01-02 15:04"), r.DatasetPath, r.OutputDir)
		}
		w.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
}
