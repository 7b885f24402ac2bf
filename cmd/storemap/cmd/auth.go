package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-storemap-client/auth"
	"github.com/jrsteele09/go-storemap-client/client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	username   string
	password   string
	credential string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a username and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := readCredentials(cmd)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.Auth().Login(ctx, creds)
			if err != nil {
				return err
			}
			return printLoginResult(cmd, c, res)
		})
	},
}

var googleLoginCmd = &cobra.Command{
	Use:   "google-login",
	Short: "Sign in with a Google ID token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if credential == "" {
			return errors.New("--credential is required")
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.Auth().GoogleLogin(ctx, credential)
			if err != nil {
				return err
			}
			return printLoginResult(cmd, c, res)
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := readCredentials(cmd)
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			res, err := c.Auth().Register(ctx, creds)
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "registered", creds.Username)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session here and on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			c.Auth().Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if !c.Auth().IsAuthenticated() {
				return errors.New(c.Printer().AuthenticationRequired())
			}
			u := c.Auth().CurrentUser()
			if u == nil {
				return errors.New(c.Printer().InvalidToken())
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:     %s\n", u.DisplayName())
			fmt.Fprintf(out, "Username: %s\n", u.UserName)
			if u.Email != "" {
				fmt.Fprintf(out, "Email:    %s\n", u.Email)
			}
			fmt.Fprintf(out, "Roles:    %s\n", strings.Join(u.Roles(), ", "))
			if tok, ok := c.Auth().CurrentToken(); ok && !tok.Expiry.IsZero() {
				fmt.Fprintf(out, "Expires:  %s\n", tok.Expiry.Local().Format(time.RFC1123))
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st := c.Connection().State()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connection:    %s\n", st.Status)
			fmt.Fprintf(out, "Working URL:   %s\n", st.WorkingURL)
			fmt.Fprintf(out, "Failures:      %d\n", st.ConsecutiveFailures)
			if !st.LastSuccess.IsZero() {
				fmt.Fprintf(out, "Last success:  %s\n", st.LastSuccess.Local().Format(time.RFC1123))
			}
			fmt.Fprintf(out, "Authenticated: %t\n", c.Auth().IsAuthenticated())
			if at, ok := c.Auth().NextAutoRefresh(); ok {
				fmt.Fprintf(out, "Next refresh:  %s\n", at.Local().Format(time.RFC1123))
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVarP(&username, "username", "u", "", "account name")
		c.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when omitted)")
		_ = c.MarkFlagRequired("username")
	}
	googleLoginCmd.Flags().StringVar(&credential, "credential", "", "Google ID token")

	rootCmd.AddCommand(loginCmd, googleLoginCmd, registerCmd, logoutCmd, whoamiCmd, statusCmd)
}

func readCredentials(cmd *cobra.Command) (auth.Credentials, error) {
	pw := password
	if pw == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return auth.Credentials{}, errors.Wrap(err, "reading password")
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	return auth.Credentials{Username: username, Password: pw}, nil
}

func printLoginResult(cmd *cobra.Command, c *client.Client, res *auth.LoginResult) error {
	if !res.Success {
		return errors.New(res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	if u := c.Auth().CurrentUser(); u != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", u.DisplayName())
	}
	return nil
}
