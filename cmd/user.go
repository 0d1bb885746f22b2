package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"devicehub/internal/bootstrap"
	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/errs"
	"devicehub/internal/transport/httpapi"
	"devicehub/internal/usecase/usermgmt"
)

type userDetail struct {
	User        httpapi.UserResponse        `json:"user"`
	Authorities []httpapi.AuthorityResponse `json:"authorities"`
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and manage users",
}

var userGetCmd = &cobra.Command{
	Use:   "get <username>",
	Short: "Show a user and its granted authorities",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := cmd.Context()
		u, err := app.Users.GetUser(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return err
		}
		auths, err := app.Users.GetGrantedAuthorities(ctx, u.Username)
		if err != nil {
			return err
		}

		return writeJSON(cmd.OutOrStdout(), userDetail{
			User:        httpapi.ToUserResponse(u),
			Authorities: httpapi.ToAuthorityResponses(auths),
		})
	}),
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		passwordHash, _ := cmd.Flags().GetString("password-hash")
		firstName, _ := cmd.Flags().GetString("first-name")
		lastName, _ := cmd.Flags().GetString("last-name")
		status, _ := cmd.Flags().GetString("status")
		authorities, _ := cmd.Flags().GetStringSlice("authority")

		u, err := app.Users.CreateUser(cmd.Context(), usermgmt.CreateUserInput{
			Username:       cmd.Flags().Arg(0),
			HashedPassword: passwordHash,
			FirstName:      firstName,
			LastName:       lastName,
			Status:         status,
			Authorities:    authorities,
		})
		if err := committed(cmd, err); err != nil {
			return err
		}

		return writeJSON(cmd.OutOrStdout(), httpapi.ToUserResponse(u))
	}),
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user and its grants",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		return committed(cmd, app.Users.DeleteUser(cmd.Context(), cmd.Flags().Arg(0)))
	}),
}

var userGrantCmd = &cobra.Command{
	Use:   "grant <username> [authority...]",
	Short: "Replace the granted authorities of a user",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		args := cmd.Flags().Args()
		auths, err := app.Users.SetUserAuthorities(cmd.Context(), args[0], args[1:])
		if err := committed(cmd, err); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), httpapi.ToAuthorityResponses(auths))
	}),
}

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Manage granted authorities",
}

var authorityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known authority",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		auths, err := app.Users.ListAuthorities(cmd.Context())
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), httpapi.ToAuthorityResponses(auths))
	}),
}

var authorityCreateCmd = &cobra.Command{
	Use:   "create <authority>",
	Short: "Create an authority",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		description, _ := cmd.Flags().GetString("description")
		parent, _ := cmd.Flags().GetString("parent")
		group, _ := cmd.Flags().GetBool("group")

		created, err := app.Users.CreateGrantedAuthority(cmd.Context(), usermgmt.CreateAuthorityInput{
			Authority:   cmd.Flags().Arg(0),
			Description: description,
			Parent:      parent,
			Group:       group,
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), httpapi.ToAuthorityResponse(created))
	}),
}

func init() {
	rootCmd.AddCommand(userCmd, authorityCmd)
	userCmd.AddCommand(userGetCmd, userCreateCmd, userDeleteCmd, userGrantCmd)
	authorityCmd.AddCommand(authorityListCmd, authorityCreateCmd)

	userCreateCmd.Flags().String("password-hash", "", "Pre-hashed password")
	userCreateCmd.Flags().String("first-name", "", "First name")
	userCreateCmd.Flags().String("last-name", "", "Last name")
	userCreateCmd.Flags().String("status", "active", "Account status: active|expired|locked")
	userCreateCmd.Flags().StringSlice("authority", nil, "Authority to grant (repeatable)")
	_ = userCreateCmd.MarkFlagRequired("password-hash")

	authorityCreateCmd.Flags().String("description", "", "Human readable description")
	authorityCreateCmd.Flags().String("parent", "", "Parent authority")
	authorityCreateCmd.Flags().Bool("group", false, "Mark as an authority group")
}

// committed downgrades a publish failure to a warning: the write itself is durable
// and peers converge once their entries expire.
func committed(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, usermgmt.ErrPublishFailed) {
		logging.Warn(cmd.Context(), "write committed but invalidation not published", slog.Any("err", errs.Loggable(err)))
		return nil
	}
	return err
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return errs.Wrap(err, "write json output")
	}
	return nil
}
