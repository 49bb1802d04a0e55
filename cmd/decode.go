package cmd

import (
	"fmt"

	"github.com/creatorsuite/mediaflow/internal/ops"

	"github.com/spf13/cobra"
)

var (
	decodePassword  string
	decodeOutputDir string
)

var decodeCmd = &cobra.Command{
	Use:   "decode [image]",
	Short: "Recover a file hidden inside a carrier image",
	Long: `Extract steganographically embedded media from a carrier image and write
it next to the carrier (or into the chosen output directory). Encrypted
payloads require the password they were embedded with.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := ops.NewRunner(0, nil)
		op := ops.Operation{
			Kind: ops.KindDuckDecode,
			Duck: &ops.DuckConfig{
				Password:  decodePassword,
				OutputDir: decodeOutputDir,
			},
		}

		if _, err := runner.Run(cmd.Context(), op, args[0]); err != nil {
			return fmt.Errorf("decode failed: %w", err)
		}
		return nil
	},
}

func init() {
	decodeCmd.Flags().StringVarP(&decodePassword, "password", "p", "", "Password for encrypted payloads")
	decodeCmd.Flags().StringVarP(&decodeOutputDir, "output", "o", "", "Output directory (default: alongside the carrier)")
	rootCmd.AddCommand(decodeCmd)
}
