package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_PATH...]",
		Short: "Remove the resume files left by interrupted downloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, outputPath := range args {
				removed, err := utils.Clean(outputPath)
				for _, path := range removed {
					output.PrintDetail(fmt.Sprintf("%s Removed %s", output.StyleSymbols["arrow"], path))
				}
				if err != nil {
					return fmt.Errorf("error cleaning up %s: %w", outputPath, err)
				}
				if len(removed) == 0 {
					output.PrintInfo(fmt.Sprintf("%s Nothing to clean for %s", output.StyleSymbols["info"], outputPath))
				}
			}
			output.PrintSuccess(fmt.Sprintf("%s Temporary files cleaned up", output.StyleSymbols["pass"]))
			return nil
		},
	}
}
