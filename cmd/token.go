package cmd

import (
	"fmt"
	"time"

	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/spf13/cobra"
)

var (
	tokenUserId   int64
	tokenRole     string
	tokenService  string
	tokenAudience string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed user or service token for local use",
	Example: "  messenger token --user-id 42 --role supervisor\n" +
		"  messenger token --service odds-feed --audience unread-counters",
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserId, "user-id", 0, "user id of a user token")
	tokenCmd.Flags().StringVar(&tokenRole, "role", types.RoleBookmaker.String(), "role of a user token")
	tokenCmd.Flags().StringVar(&tokenService, "service", "", "service name of a service token")
	tokenCmd.Flags().StringVar(&tokenAudience, "audience", "unread-counters", "audience of a service token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultExpiration, "token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	// only the signing key is needed, so the config is not validated
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	tokens := auth.NewTokens(cfg.SigningKey)

	var token string
	switch {
	case tokenService != "":
		token, err = tokens.CreateServiceToken(tokenService, tokenAudience, tokenTTL)
	case tokenUserId > 0:
		role, perr := types.ParseRole(tokenRole)
		if perr != nil {
			return perr
		}
		token, err = tokens.CreateUserToken(types.AuthUser{Id: tokenUserId, Role: role}, tokenTTL)
	default:
		return fmt.Errorf("either --user-id or --service is required")
	}
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
