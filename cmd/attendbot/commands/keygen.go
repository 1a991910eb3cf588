package commands

import (
	"fmt"

	"attendbot-backend/lib/serviceutil"
	"attendbot-backend/lib/vault"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(keygenCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates a fresh master key for the credential vault.",
	Run: func(cmd *cobra.Command, args []string) {
		key, err := vault.GenerateKey()
		if err != nil {
			serviceutil.Fatal("failed to generate key", err)
		}
		fmt.Println(key)
	},
}
