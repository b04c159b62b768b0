package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/sitenotify/internal/credential"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API token in the system keyring",
	Long: `Store an API token in the system keyring.

The user id and role are read from the token's claims when it is a JWT and
asked for otherwise. A running panel picks the new session up immediately.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.creds.Clear(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "API token (prompted for when empty)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	token := loginToken
	if token == "" {
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("API token").
				Description("Paste the bearer token issued by the ERP.").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(required("token")),
		))
		if err := form.Run(); err != nil {
			return err
		}
	}

	sess, err := credential.SessionFromToken(token)
	if err != nil {
		return err
	}

	if sess.UserID == "" || sess.Role == "" {
		userID, role := sess.UserID, sess.Role
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("User id").
				Value(&userID).
				Validate(required("user id")),
			huh.NewInput().
				Title("Role").
				Description("e.g. project_manager, site_engineer, buyer").
				Value(&role).
				Validate(required("role")),
		))
		if err := form.Run(); err != nil {
			return err
		}
		sess.UserID = strings.TrimSpace(userID)
		sess.Role = strings.TrimSpace(role)
	}

	if err := rt.creds.Save(sess); err != nil {
		return err
	}
	rt.logger.Info("session stored", "user", sess.UserID, "role", sess.Role)
	fmt.Printf("Logged in as user %s (%s).\n", sess.UserID, sess.Role)
	return nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}
