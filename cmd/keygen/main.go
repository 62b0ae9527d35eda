package main

import (
	"fmt"
	"os"

	"github.com/reclive/backend/pkg/utils/secret"
	"github.com/reclive/backend/pkg/utils/sshkeygen"
	"github.com/spf13/cobra"
)

var flagComment string

func main() {
	exportKeyCmd.Flags().StringVar(&flagComment, "comment", "reclive-export", "comment stored with the generated key")

	rootCmd.AddCommand(exportKeyCmd)
	rootCmd.AddCommand(sealCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "keygen",
	Short:         "Prepare credentials for exporting recordings over SFTP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var exportKeyCmd = &cobra.Command{
	Use:   "export-key <private-key-path>",
	Short: "Write an Ed25519 key pair for export.private_key_file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := sshkeygen.GenerateEd25519KeyPair(args[0], flagComment)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Private key: %s\n", args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "Add to the export host's authorized_keys:\n%s\n", line)
		return nil
	},
}

var sealCmd = &cobra.Command{
	Use:   "seal <value>",
	Short: "Seal a value for export.password with RECLIVE_AUTH_SECRET_KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sealed, err := secret.Seal(args[0], os.Getenv("RECLIVE_AUTH_SECRET_KEY"))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}
