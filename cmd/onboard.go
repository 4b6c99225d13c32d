package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/firesend/engine/internal/config"
	"github.com/firesend/engine/internal/store"
	"github.com/firesend/engine/internal/store/pg"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup: write config.json and connect the first tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	cfg := config.Default()
	port := strconv.Itoa(cfg.Server.Port)

	tenantID := "default"
	pageID := ""
	instagramToken := ""
	systemPrompt := "You are a friendly sales assistant. Answer briefly and in the customer's language."
	seedDB := false

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("HTTP port").
				Description("Port for the webhook endpoint and dashboard API").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Tenant ID").
				Description("Identifier for the first tenant account").
				Value(&tenantID).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("tenant id is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Instagram page ID").
				Description("The connected page's numeric ID (blank to connect later)").
				Value(&pageID),
			huh.NewInput().
				Title("Instagram page token").
				EchoMode(huh.EchoModePassword).
				Description("Long-lived page access token (blank to connect later)").
				Value(&instagramToken),
			huh.NewText().
				Title("System prompt").
				Description("Personality and instructions for the AI responder").
				Value(&systemPrompt),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Seed tenant into Postgres now?").
				Description("Requires FIRESEND_POSTGRES_DSN and applied migrations").
				Value(&seedDB),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.Port, _ = strconv.Atoi(port)

	path := resolveConfigPath()
	if err := writeConfigFile(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)

	verifyToken := os.Getenv("FIRESEND_VERIFY_TOKEN")
	if verifyToken == "" {
		verifyToken = randomToken()
		fmt.Printf("\nGenerated webhook verify token (export it before starting):\n")
		fmt.Printf("  export FIRESEND_VERIFY_TOKEN=%s\n", verifyToken)
	}
	fmt.Println("\nRemaining secrets are read from the environment:")
	fmt.Println("  FIRESEND_POSTGRES_DSN, FIRESEND_APP_SECRET, FIRESEND_GEMINI_API_KEY, FIRESEND_API_TOKEN")

	if seedDB {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if cfg.Database.PostgresDSN == "" {
			return fmt.Errorf("FIRESEND_POSTGRES_DSN environment variable is not set")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, _, err := pg.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		tenant := &store.Tenant{
			ID:             tenantID,
			PageID:         pageID,
			InstagramToken: instagramToken,
			TokenExpiresAt: time.Now().Add(60 * 24 * time.Hour),
			SystemPrompt:   systemPrompt,
			IsBotActive:    true,
			OAuthConnected: pageID != "" && instagramToken != "",
		}
		if err := pg.SeedTenant(ctx, db, tenant); err != nil {
			return err
		}
		fmt.Printf("Seeded tenant %q (page %q)\n", tenantID, pageID)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  firesend migrate up")
	fmt.Println("  firesend serve")
	return nil
}

func writeConfigFile(path string, cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

func randomToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
