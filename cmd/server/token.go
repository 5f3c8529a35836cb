package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/reviewqueue/pkg/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		userID     int64
		roles      []string
		categories []int64
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := auth.IssueToken(secret, userID, roles, categories, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (subject)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles such as moderator or admin")
	cmd.Flags().Int64SliceVar(&categories, "categories", nil, "category ids the user reviews")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
