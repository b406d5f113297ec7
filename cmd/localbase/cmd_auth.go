package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/localbase"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Print the signed-in session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			sess, err := c.Auth.GetSession()
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not signed in")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), sess)
		})
	},
}

var signInCmd = &cobra.Command{
	Use:   "signin [PROVIDER]",
	Short: "Sign the demo user in",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := "google"
		if len(args) > 0 {
			provider = args[0]
		}
		return withClient(cmd, func(c *localbase.Client) error {
			res, err := c.Auth.SignIn(provider)
			if err != nil {
				return err
			}
			logger.Info("signed in", "user", res.Session.User.Email, "redirect", res.RedirectTo)
			return printJSON(cmd.OutOrStdout(), res.Session)
		})
	},
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Remove the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			return c.Auth.SignOut()
		})
	},
}

var updateUserCmd = &cobra.Command{
	Use:   "update-user JSON",
	Short: "Merge fields into the signed-in user's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := parseRows(args[0])
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return fmt.Errorf("update-user takes a single JSON object")
		}
		return withClient(cmd, func(c *localbase.Client) error {
			u, err := c.Auth.UpdateUser(rows[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		})
	},
}

var verifyTokenCmd = &cobra.Command{
	Use:   "verify-token [TOKEN]",
	Short: "Check an access token (default: the current session's)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *localbase.Client) error {
			var token string
			if len(args) > 0 {
				token = args[0]
			} else {
				sess, err := c.Auth.GetSession()
				if err != nil {
					return err
				}
				if sess == nil {
					return localbase.ErrNoSession
				}
				token = sess.AccessToken
			}
			claims, err := c.Auth.VerifyAccessToken(token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), claims)
		})
	},
}
