package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stellarlinkco/autoreply/internal/analytics"
	"github.com/stellarlinkco/autoreply/internal/config"
	"github.com/stellarlinkco/autoreply/internal/cron"
	"github.com/stellarlinkco/autoreply/internal/gateway"
	"github.com/stellarlinkco/autoreply/internal/memory"
	"github.com/stellarlinkco/autoreply/internal/profile"
	"github.com/stellarlinkco/autoreply/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "autoreply",
	Short: "autoreply - answers your direct messages while you're away",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Connect the channels and answer monitored contacts until interrupted",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show autoreply status",
	RunE:  runStatus,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print conversation statistics as JSON",
	RunE:  runStats,
}

var exportCmd = &cobra.Command{
	Use:   "export <contactID>",
	Short: "Print history, profile and analytics for one contact as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, statsCmd, exportCmd)
}

func main() {
	loadEnv()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv reads .env from the working directory, then from the config dir.
// Variables already set are never overridden.
func loadEnv() {
	for _, path := range []string{".env", envPath()} {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[config] load %s: %v", path, err)
		}
	}
}

func envPath() string {
	return filepath.Join(config.ConfigDir(), ".env")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	writeIfNotExists(out, envPath(), defaultEnv)

	fmt.Fprintf(out, "Data dir ready: %s\n", cfg.Storage.Dir)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to choose who gets replies (reply.monitorContacts)\n", cfgPath)
	fmt.Fprintf(out, "  2. Put API keys in %s if you use the openai or agent backend\n", envPath())
	fmt.Fprintln(out, "  3. Run 'autoreply gateway' and scan the WhatsApp QR code")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Storage: %s (%s)\n", cfg.Storage.Dir, cfg.Storage.Driver)
	fmt.Fprintf(out, "Backend: %s\n", cfg.Backend.Type)
	fmt.Fprintf(out, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(out, "AI replies: %v (timeout %s)\n", cfg.Reply.UseAI, cfg.Reply.Timeout())
	fmt.Fprintf(out, "Monitoring: %s\n", strings.Join(cfg.Reply.MonitorContacts, ", "))
	fmt.Fprintf(out, "WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)

	if _, err := os.Stat(cfg.Storage.Dir); err != nil {
		fmt.Fprintln(out, "Data: not found (run 'autoreply onboard')")
		return nil
	}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		fmt.Fprintf(out, "Data: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	snap := analytics.NewAggregator(st).Snapshot()
	fmt.Fprintf(out, "Contacts: %d\n", len(snap.ContactInteractions))
	fmt.Fprintf(out, "Messages: %d received/sent, %d replies\n", snap.TotalMessages, snap.TotalResponses)

	jobs, err := cron.LoadStates(filepath.Join(cfg.Storage.Dir, "cron", "jobs.json"))
	if err != nil {
		fmt.Fprintf(out, "Jobs: error (%v)\n", err)
		return nil
	}
	for _, j := range jobs {
		fmt.Fprintf(out, "Job %s: %d runs, last %s\n", j.Name, j.Runs, orDash(j.LastStatus))
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	return withDocuments(func(histories map[string]memory.ContactHistory, profiles map[string]profile.ContactProfile, data analytics.Store) error {
		return writeJSON(cmd.OutOrStdout(), analytics.BuildStats(histories, profiles, data))
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	contactID := args[0]
	return withDocuments(func(histories map[string]memory.ContactHistory, profiles map[string]profile.ContactProfile, data analytics.Store) error {
		return writeJSON(cmd.OutOrStdout(), analytics.ExportContact(contactID, histories, profiles, data))
	})
}

// withDocuments loads the persisted documents through their owning components.
func withDocuments(fn func(map[string]memory.ContactHistory, map[string]profile.ContactProfile, analytics.Store) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	agg := analytics.NewAggregator(st)
	ledger := memory.NewLedger(st, nil)
	builder := profile.NewBuilder(st, ledger)
	return fn(ledger.Histories(), builder.Profiles(), agg.Snapshot())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			fmt.Fprintf(out, "  Could not create %s: %v\n", path, err)
			return
		}
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}

const defaultEnv = `# Loaded by autoreply on start. Real environment variables win.
# AUTOREPLY_API_KEY=
# OPENAI_API_KEY=
# ANTHROPIC_API_KEY=
# AUTOREPLY_BACKEND=process
# AUTOREPLY_MONITOR=ALL
# AUTOREPLY_USE_AI=true
# AUTOREPLY_TELEGRAM_TOKEN=
`
