package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/budgetbell/internal/auth"
	"github.com/dukerupert/budgetbell/internal/config"
	"github.com/dukerupert/budgetbell/internal/push"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for web push",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "BUDGETBELL_PUSH_VAPID_PUBLIC_KEY=%s\nBUDGETBELL_PUSH_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return nil
	},
}

var (
	tokenUserID  int64
	tokenService bool
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a user or for the scheduler",
	Long: `Mint a signed bearer token with the configured JWT secret.

Examples:
  budgetbell token --service --ttl 8760h
  budgetbell token --user 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		role := ""
		if tokenService {
			role = auth.RoleService
		} else if tokenUserID <= 0 {
			return errors.New("pass --user or --service")
		}
		tok, err := auth.NewResolver(cfg.Auth.JWTSecret, nil, "").Issue(tokenUserID, role, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret <secret>",
	Short: "Print the bcrypt hash to use as auth.cron_secret_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := auth.HashSecret(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), h)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user", 0, "user id the token authenticates")
	tokenCmd.Flags().BoolVar(&tokenService, "service", false, "mint a scheduler token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
