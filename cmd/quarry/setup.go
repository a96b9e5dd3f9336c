package main

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/app"
	"github.com/quarrydb/quarry/internal/auth"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/store"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the initial developer account",
	Long: `Setup provisions a developer credential with elevated access.
Run it once after installation; the _dev/setup endpoint reports whether
a developer account already exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg, zap.NewNop(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		existing, err := a.Store.Find(ctx, app.CredentialsCollection, store.Query{
			Filter: map[string]any{"dev": true},
			Limit:  1,
		})
		if err != nil {
			return fmt.Errorf("failed to check for existing developer account: %w", err)
		}
		if existing.Total > 0 {
			color.Yellow("A developer account already exists; nothing to do.")
			return nil
		}

		var answers struct {
			User     string
			Password string
		}
		questions := []*survey.Question{
			{
				Name:     "user",
				Prompt:   &survey.Input{Message: "Developer account identifier:"},
				Validate: survey.Required,
			},
			{
				Name:     "password",
				Prompt:   &survey.Password{Message: "Password:"},
				Validate: survey.MinLength(8),
			},
		}
		if err := survey.Ask(questions, &answers); err != nil {
			return err
		}

		hash, err := auth.HashPassword(answers.Password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		record := store.Record{
			"user":          answers.User,
			"password_hash": hash,
			"dev":           true,
		}
		if _, err := a.Store.Insert(ctx, app.CredentialsCollection, record); err != nil {
			return fmt.Errorf("failed to create developer account: %w", err)
		}

		color.Green("Developer account %q created.", answers.User)
		return nil
	},
}
