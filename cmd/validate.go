package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/cocomask/internal/maskio"
	"github.com/andresmejia3/cocomask/internal/utils"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <image_path> <mask_path>",
	Short: "Check a mask against its source image (size, value range, classes)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runValidate(args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(imagePath, maskPath string) error {
	for _, p := range []string{imagePath, maskPath} {
		if _, err := os.Stat(p); err != nil {
			utils.ShowError("Input file does not exist", err)
			return err
		}
	}

	r, err := maskio.Validate(imagePath, maskPath)
	if err != nil {
		utils.ShowError("Failed to read images", err)
		return err
	}

	fmt.Printf("Image size: %dx%d\n", r.ImageWidth, r.ImageHeight)
	fmt.Printf("Mask size:  %dx%d\n", r.MaskWidth, r.MaskHeight)
	fmt.Printf("Mask value range: %d to %d\n", r.Min, r.Max)
	fmt.Printf("Unique values in the mask: %v\n", r.Unique)

	if !r.DimensionsMatch {
		err := fmt.Errorf("dimension mismatch: image %dx%d vs. mask %dx%d", r.ImageWidth, r.ImageHeight, r.MaskWidth, r.MaskHeight)
		fmt.Println("❌ " + err.Error())
		return err
	}
	fmt.Println("✅ Dimensions match.")
	return nil
}
