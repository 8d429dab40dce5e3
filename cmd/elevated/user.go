package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elevate/internal/auth"
	"github.com/nerrad567/elevate/internal/infrastructure/database"
)

// generatedSecretBytes is the entropy of secrets the CLI generates.
const generatedSecretBytes = 16

func newUserCommand(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts and elevation credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newUserAddCommand(configPath))
	cmd.AddCommand(newUserSetCredentialCommand(configPath))
	cmd.AddCommand(newUserListCommand(configPath))
	return cmd
}

func newUserAddCommand(configPath func() string) *cobra.Command {
	var (
		role        string
		displayName string
		password    string
	)

	cmd := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create an account; the password is generated unless given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if !auth.IsValidUsername(username) {
				return fmt.Errorf("invalid username %q", username)
			}
			if !auth.IsValidRole(auth.Role(role)) {
				return fmt.Errorf("invalid role %q: must be member, staff, or admin", role)
			}

			generated := password == ""
			if generated {
				secret, err := auth.GenerateSecret(generatedSecretBytes)
				if err != nil {
					return err
				}
				password = secret
			}
			hash, err := auth.HashSecret(password)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			if displayName == "" {
				displayName = username
			}

			return withMigratedDatabase(cmd, configPath(), func(db *database.DB) error {
				user := &auth.User{
					Username:     username,
					DisplayName:  displayName,
					PasswordHash: hash,
					Role:         auth.Role(role),
					IsActive:     true,
					CreatedBy:    "cli",
				}
				if err := auth.NewUserRepository(db.DB).Create(cmd.Context(), user); err != nil {
					return fmt.Errorf("creating user: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "created %s (%s)\n", user.Username, user.Role)
				if generated {
					fmt.Fprintf(out, "password: %s\n", password)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", string(auth.RoleStaff), "Role: member, staff, or admin")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name (defaults to the username)")
	cmd.Flags().StringVar(&password, "password", "", "Login password (generated if empty)")
	return cmd
}

func newUserSetCredentialCommand(configPath func() string) *cobra.Command {
	var credential string

	cmd := &cobra.Command{
		Use:   "set-credential USERNAME",
		Short: "Set the elevation credential; it is generated unless given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			generated := credential == ""
			if generated {
				secret, err := auth.GenerateSecret(generatedSecretBytes)
				if err != nil {
					return err
				}
				credential = secret
			}

			return withMigratedDatabase(cmd, configPath(), func(db *database.DB) error {
				provider := auth.NewProvider(auth.NewUserRepository(db.DB), auth.NewCredentialRepository(db.DB))
				if err := provider.SetCredential(cmd.Context(), args[0], credential); err != nil {
					return fmt.Errorf("setting credential: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "elevation credential set for %s\n", args[0])
				if generated {
					fmt.Fprintf(out, "credential: %s\n", credential)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&credential, "credential", "", "Elevation credential (generated if empty)")
	return cmd
}

func newUserListCommand(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigratedDatabase(cmd, configPath(), func(db *database.DB) error {
				users, err := auth.NewUserRepository(db.DB).List(cmd.Context())
				if err != nil {
					return fmt.Errorf("listing users: %w", err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USERNAME\tROLE\tACTIVE\tCREATED")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", u.Username, u.Role, u.IsActive, u.CreatedAt.Format("2006-01-02"))
				}
				return tw.Flush()
			})
		},
	}
}

// withMigratedDatabase is withDatabase with pending migrations applied
// first, so account commands work on a fresh install.
func withMigratedDatabase(cmd *cobra.Command, configPath string, fn func(db *database.DB) error) error {
	return withDatabase(cmd.Context(), configPath, func(db *database.DB) error {
		if err := db.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		return fn(db)
	})
}
