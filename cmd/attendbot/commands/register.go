package commands

import (
	"log/slog"

	"attendbot-backend/lib/serviceutil"
	"attendbot-backend/services/registration"

	"github.com/spf13/cobra"
)

var registerPort *int

func init() {
	registerPort = registerCmd.Flags().Int("port", 0, "Port overriding the configured one.")
	rootCmd.AddCommand(registerCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register [--port N]",
	Short: "Serves the self-registration form.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()

		svc := registration.NewService(openStore(cfg), openVault(cfg))

		port := cfg.RegisterPort
		if *registerPort != 0 {
			port = *registerPort
		}
		slog.Info("serving registration form", "port", port)
		go serviceutil.StartHttpServer(port, svc.Router())

		<-ctx.Done()
	},
}
