package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inercia/chatline/internal/auth"
	"github.com/inercia/chatline/internal/logging"
)

// maxPromptAttempts bounds re-prompting after local validation errors.
const maxPromptAttempts = 3

var registerEmail string

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and remember the session",
	Long: `Log in to the chat server. The session token is stored in the OS
keychain (macOS) or in the chatline directory, so later commands and
restarts reuse it.

The password is read from the terminal, or from stdin when it is piped:
  echo "$PASSWORD" | chatline login alice`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register [username]",
	Short: "Create an account and log into it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server and session in use",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)

	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email address for the new account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	mgr, err := openSessionManager(newAPIClient())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	p := newPrompter(cmd.InOrStdin(), out)

	var username string
	if len(args) > 0 {
		username = args[0]
	}

	for attempt := 1; ; attempt++ {
		if username == "" {
			if username, err = p.Line("Username: "); err != nil {
				return err
			}
		}
		password, err := p.Secret("Password: ")
		if err != nil {
			return err
		}

		s, err := mgr.Login(cmd.Context(), username, password)
		var verr *auth.ValidationError
		if errors.As(err, &verr) && attempt < maxPromptAttempts {
			fmt.Fprintf(out, "Invalid input: %v\n", verr)
			if verr.Field == "username" {
				username = ""
			}
			continue
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Logged in as %s.\n", s.DisplayName)
		return nil
	}
}

func runRegister(cmd *cobra.Command, args []string) error {
	mgr, err := openSessionManager(newAPIClient())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	p := newPrompter(cmd.InOrStdin(), out)

	var username string
	if len(args) > 0 {
		username = args[0]
	}
	email := registerEmail

	for attempt := 1; ; attempt++ {
		if username == "" {
			if username, err = p.Line("Username: "); err != nil {
				return err
			}
		}
		if email == "" {
			if email, err = p.Line("Email: "); err != nil {
				return err
			}
		}
		password, err := p.Secret("Password: ")
		if err != nil {
			return err
		}
		confirm, err := p.Secret("Confirm password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			if attempt < maxPromptAttempts {
				fmt.Fprintln(out, "Passwords do not match.")
				continue
			}
			return fmt.Errorf("passwords do not match")
		}

		s, err := mgr.Register(cmd.Context(), username, email, password)
		var verr *auth.ValidationError
		if errors.As(err, &verr) && attempt < maxPromptAttempts {
			fmt.Fprintf(out, "Invalid input: %v\n", verr)
			switch verr.Field {
			case "username":
				username = ""
			case "email":
				email = ""
			}
			continue
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Registered and logged in as %s.\n", s.DisplayName)
		return nil
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	mgr, err := openSessionManager(newAPIClient())
	if err != nil {
		return err
	}
	was := mgr.Current()
	mgr.Logout()

	out := cmd.OutOrStdout()
	if was.IsAuthenticated() {
		fmt.Fprintf(out, "Logged out %s.\n", was.DisplayName)
	} else {
		fmt.Fprintln(out, "Not logged in.")
	}
	logging.CLI().Debug("Logout command finished", "was_authenticated", was.IsAuthenticated())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	mgr, err := openSessionManager(newAPIClient())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Server:  %s\n", cfg.Server.URL)
	if cfg.Server.Room > 0 {
		fmt.Fprintf(out, "Room:    %d\n", cfg.Server.Room)
	} else {
		fmt.Fprintln(out, "Room:    server default")
	}

	s := mgr.Current()
	if !s.IsAuthenticated() {
		fmt.Fprintln(out, "Session: not logged in")
		return nil
	}
	fmt.Fprintf(out, "Session: logged in as %s\n", s.DisplayName)

	if exp, ok := auth.TokenExpiry(s.Token); ok {
		if remaining := time.Until(exp); remaining > 0 {
			fmt.Fprintf(out, "Token:   expires %s (in %s)\n", exp.Local().Format(time.RFC1123), remaining.Round(time.Minute))
		} else {
			fmt.Fprintf(out, "Token:   expired %s; log in again\n", exp.Local().Format(time.RFC1123))
		}
	}
	return nil
}
