package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/cocomask/internal/coco"
	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
)

var categoriesAnnFile string

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the categories of a COCO dataset with their mask label and annotation count",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ds, err := coco.Load(categoriesAnnFile)
		if err != nil {
			utils.ShowError("Failed to load annotations", err)
			return err
		}
		printCategories(os.Stdout, ds)
		return nil
	},
}

func init() {
	categoriesCmd.Flags().StringVarP(&categoriesAnnFile, "ann-file", "a", "", "Path to COCO annotation JSON file")
	categoriesCmd.MarkFlagRequired("ann-file")
	rootCmd.AddCommand(categoriesCmd)
}

// printCategories writes one row per category. The label is the pixel value
// the category gets in generated masks.
func printCategories(out io.Writer, ds *coco.Dataset) {
	cats := ds.Categories()
	if len(cats) == 0 {
		fmt.Fprintln(out, "No categories found in dataset.")
		return
	}

	counts := ds.AnnotationCounts()
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tNAME\tSUPERCATEGORY\tANNOTATIONS\tNOTE")
	fmt.Fprintln(w, "-----\t----\t-------------\t-----------\t----")
	for _, c := range cats {
		note := ""
		if c.ID > 255 {
			note = "needs --depth 16"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", c.ID, c.Name, c.Supercategory, counts[c.ID], note)
	}
	w.Flush()
}
