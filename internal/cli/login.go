package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var initData string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange Telegram init data for a session token",
		Long: `Exchange the signed init data a Telegram Mini App receives for a session
token. The token is saved to the token file for later commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if initData == "" {
				return fmt.Errorf("--init-data is required")
			}

			req := map[string]string{"init_data": initData}
			var result AuthResult

			if err := client.Post("/api/v1/auth/telegram", req, &result); err != nil {
				return err
			}

			// Save token
			if err := cfg.SaveToken(result.Token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&initData, "init-data", "", "Telegram WebApp init data (required)")
	_ = cmd.MarkFlagRequired("init-data")

	return cmd
}
