package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/atenlabs/atenbot/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

// runOnboard walks through the minimum viable setup and writes
// config.json plus an .env.local with the secrets. Secrets never land
// in config.json.
func runOnboard() error {
	cfg := config.Default()

	var (
		evolutionURL = cfg.Evolution.BaseURL
		instance     = cfg.Evolution.Instance
		evolutionKey string
		geminiKey    string
		geminiBackup string
		port         = strconv.Itoa(cfg.Server.Port)
		persona      string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Evolution API base URL").
				Description("Where your Evolution API deployment listens").
				Value(&evolutionURL),
			huh.NewInput().
				Title("Evolution instance name").
				Value(&instance),
			huh.NewInput().
				Title("Evolution API key").
				EchoMode(huh.EchoModePassword).
				Value(&evolutionKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gemini API key").
				EchoMode(huh.EchoModePassword).
				Value(&geminiKey),
			huh.NewInput().
				Title("Gemini backup API key (optional)").
				Description("Used when the primary key hits its quota").
				EchoMode(huh.EchoModePassword).
				Value(&geminiBackup),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Webhook port").
				Value(&port),
			huh.NewInput().
				Title("Bot persona (optional)").
				Description("System instruction for the reply generator; empty keeps the default").
				Value(&persona),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard aborted: %w", err)
	}

	cfg.Evolution.BaseURL = evolutionURL
	cfg.Evolution.Instance = instance
	if p, err := strconv.Atoi(port); err == nil && p > 0 {
		cfg.Server.Port = p
	}
	cfg.Bot.DefaultPersona = persona

	cfgPath := resolveConfigPath()
	if err := writeConfigFile(cfgPath, cfg); err != nil {
		return err
	}

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	if err := writeEnvFile(envPath, evolutionKey, geminiKey, geminiBackup); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Config written to %s, secrets to %s\n", cfgPath, envPath)
	fmt.Println()
	fmt.Println("Point your Evolution API webhook at:")
	fmt.Printf("  http://<this-host>:%d/webhook\n", cfg.Server.Port)
	fmt.Println()
	fmt.Printf("Then start the service:\n\n  source %s && atenbot serve\n", envPath)
	return nil
}

func writeConfigFile(path string, cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func writeEnvFile(path, evolutionKey, geminiKey, geminiBackup string) error {
	content := fmt.Sprintf("export ATENBOT_EVOLUTION_API_KEY=%q\nexport ATENBOT_GEMINI_API_KEY=%q\n", evolutionKey, geminiKey)
	if geminiBackup != "" {
		content += fmt.Sprintf("export ATENBOT_GEMINI_API_KEY_BACKUP=%q\n", geminiBackup)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}
