package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and save the access token",
	Long: `Sign in with email and password. The access token is saved to the
user config directory and used by later commands. The password is read
from the terminal when --password is not given.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and forget the saved token",
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password (prompted when omitted)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	server, _ := resolveSession()
	in := bufio.NewReader(cmd.InOrStdin())

	email := loginEmail
	if email == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	password := loginPassword
	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		p, err := readPassword(in)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = p
	}

	client := newAPIClient(server, "")
	data, err := client.do(cmd.Context(), http.MethodPost, "/v1/auth/login", nil, domain.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}

	if err := writeCredentials(&Credentials{Server: server, Email: sess.User.Email, AccessToken: sess.AccessToken}); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", sess.User.Email)
	return nil
}

func readPassword(in *bufio.Reader) (string, error) {
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		return string(b), err
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	server, accessToken := resolveSession()
	if accessToken != "" {
		if _, err := newAPIClient(server, accessToken).do(cmd.Context(), http.MethodPost, "/v1/auth/logout", nil, nil); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
	}
	if err := removeCredentials(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}
