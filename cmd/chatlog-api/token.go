package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/PabloGalante/chatlog/internal/auth"
	"github.com/PabloGalante/chatlog/internal/domain"
)

// newTokenCmd issues a development credential signed with the configured secret.
func newTokenCmd() *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			authn, err := auth.NewJWTAuthenticator(cfg.JWTSecret)
			if err != nil {
				return err
			}
			tok, err := authn.Issue(domain.UserID(user), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	return cmd
}
