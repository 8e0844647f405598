package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zulandar/courier/internal/credential"
	"github.com/zulandar/courier/internal/db"
)

func newTeamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "Manage registered teams",
	}

	cmd.AddCommand(newTeamsListCmd())
	cmd.AddCommand(newTeamsAddCmd())
	cmd.AddCommand(newTeamsRemoveCmd())
	return cmd
}

func openCredentials(configPath string) (*credential.Store, error) {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return credential.NewStore(gormDB)
}

func newTeamsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCredentials(configPath)
			if err != nil {
				return err
			}
			creds, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(creds) == 0 {
				fmt.Fprintln(out, "No teams registered.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TEAM\tNAME\tBOT USER\tSCOPE")
			for _, c := range creds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.TeamID, c.TeamName, c.BotUserID, c.Scope)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Courier config file")
	return cmd
}

func newTeamsAddCmd() *cobra.Command {
	var (
		configPath string
		reg        credential.Registration
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a team with an existing bot token",
		Long:  "Stores a bot token for a team without going through the install flow. Any previous registration for the team is replaced.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCredentials(configPath)
			if err != nil {
				return err
			}
			cred, err := store.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered team %s (bot user %s)\n", cred.TeamID, cred.BotUserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Courier config file")
	cmd.Flags().StringVar(&reg.TeamID, "team", "", "team id (required)")
	cmd.Flags().StringVar(&reg.TeamName, "name", "", "team name")
	cmd.Flags().StringVar(&reg.AccessToken, "token", "", "bot access token (required)")
	cmd.Flags().StringVar(&reg.BotUserID, "bot-user", "", "bot user id")
	cmd.Flags().StringVar(&reg.BotID, "bot-id", "", "bot id")
	cmd.Flags().StringVar(&reg.Scope, "scope", "", "granted scopes")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newTeamsRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <team-id>",
		Short: "Remove a team's registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCredentials(configPath)
			if err != nil {
				return err
			}
			if err := store.Deregister(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, credential.ErrNotFound) {
					return fmt.Errorf("team %s is not registered", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed team %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Courier config file")
	return cmd
}
