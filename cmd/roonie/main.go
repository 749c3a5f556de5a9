package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rooniethecat/roonie/internal/config"
	"github.com/rooniethecat/roonie/internal/director"
	"github.com/rooniethecat/roonie/internal/gateway"
	"github.com/rooniethecat/roonie/internal/provider"
	"github.com/rooniethecat/roonie/internal/roonie"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "roonie",
	Short: "roonie - persona chat bot decision pipeline",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron + output gate)",
	RunE:  runGateway,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run NDJSON events through the offline director and print decisions",
	RunE:  runEvaluate,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show roonie status",
	RunE:  runStatus,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect and control the provider runtime",
}

var providersShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the provider runtime and routing state",
	RunE:  runProvidersShow,
}

var providersSetActiveCmd = &cobra.Command{
	Use:   "set-active <name>",
	Short: "Set the active provider (openai, grok, anthropic, none)",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersSetActive,
}

var providersSetCapsCmd = &cobra.Command{
	Use:   "set-caps",
	Short: "Set the daily spend caps",
	RunE:  runProvidersSetCaps,
}

var providersRoutingCmd = &cobra.Command{
	Use:   "routing",
	Short: "Update the routing controls",
	RunE:  runProvidersRouting,
}

var (
	armFlag       bool
	eventsFlag    string
	capRequests   int
	capTokens     int
	capHardStop   bool
	routeEnabled  string
	routeOverride string
	routeMode     string
	routeMusic    string
	routeDefault  string
)

func init() {
	gatewayCmd.Flags().BoolVar(&armFlag, "arm", false, "Arm the output gate at launch (fresh processes start disarmed)")
	evaluateCmd.Flags().StringVarP(&eventsFlag, "file", "f", "", "NDJSON events file (default stdin)")
	providersSetCapsCmd.Flags().IntVar(&capRequests, "daily-requests", -1, "Max provider requests per broadcast day")
	providersSetCapsCmd.Flags().IntVar(&capTokens, "daily-tokens", -1, "Max tokens per broadcast day")
	providersSetCapsCmd.Flags().BoolVar(&capHardStop, "hard-stop", true, "Suppress output when a cap is reached")
	providersRoutingCmd.Flags().StringVar(&routeEnabled, "enabled", "", "Enable class-based routing (true/false)")
	providersRoutingCmd.Flags().StringVar(&routeOverride, "manual-override", "", "Manual override: default, force_openai, force_grok")
	providersRoutingCmd.Flags().StringVar(&routeMode, "general-route-mode", "", "General route mode: single or weighted_random")
	providersRoutingCmd.Flags().StringVar(&routeMusic, "music-provider", "", "Provider for music-culture questions")
	providersRoutingCmd.Flags().StringVar(&routeDefault, "default-provider", "", "Provider for general questions")
	providersCmd.AddCommand(providersShowCmd, providersSetActiveCmd, providersSetCapsCmd, providersRoutingCmd)
	rootCmd.AddCommand(gatewayCmd, evaluateCmd, onboardCmd, statusCmd, providersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
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

	if armFlag {
		gw.Gate().Arm()
	}

	return gw.Run(context.Background())
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var in io.Reader = os.Stdin
	if eventsFlag != "" {
		f, err := os.Open(eventsFlag)
		if err != nil {
			return fmt.Errorf("open events file: %w", err)
		}
		defer f.Close()
		in = f
	}

	lib := director.NewLibrary(cfg.Bot.LibraryIndexPath)
	return evaluateEvents(in, os.Stdout, lib)
}

// evaluateEvents runs NDJSON events through the offline director, one
// decision per line. Malformed lines are skipped with a note on stderr.
func evaluateEvents(in io.Reader, out io.Writer, lib *director.Library) error {
	d := &director.OfflineDirector{Library: lib}
	env := roonie.Env{Offline: true}
	enc := json.NewEncoder(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev roonie.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			fmt.Fprintf(os.Stderr, "skip malformed event: %v\n", err)
			continue
		}
		if err := enc.Encode(d.Evaluate(ev, env)); err != nil {
			return fmt.Errorf("encode decision: %w", err)
		}
	}
	return scanner.Err()
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, dir := range []string{
		cfg.Bot.DataDir,
		cfg.Bot.DataDir + "/library",
		cfg.Bot.DataDir + "/shadow",
		cfg.Bot.DataDir + "/cron",
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	writeIfNotExists(cfg.Bot.PersonaPolicyPath, defaultPersonaPolicy)

	fmt.Printf("Data directory ready: %s\n", cfg.Bot.DataDir)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s for live providers, or stay offline\n", cfgPath)
	fmt.Println("  2. Run 'roonie gateway' and arm the gate with --arm when ready")
	fmt.Println("  3. Pipe fixture events through 'roonie evaluate' to inspect decisions")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Bot: %s\n", cfg.Bot.Name)
	fmt.Printf("Data dir: %s\n", cfg.Bot.DataDir)
	fmt.Printf("Offline: %v\n", cfg.Providers.Offline)
	fmt.Printf("Console: enabled=%v chat=%s\n", cfg.Channels.Console.Enabled, cfg.Channels.Console.ChatID)
	fmt.Printf("Gate: emit every %ds, silence TTL %ds, dry-run=%v\n",
		cfg.Gate.EmitEverySeconds, cfg.Gate.SilenceTTLSeconds, cfg.Gate.DryRun)
	printKeyStatus("OpenAI", cfg.Providers.OpenAI.APIKey)
	printKeyStatus("Grok", cfg.Providers.Grok.APIKey)
	printKeyStatus("Anthropic", cfg.Providers.Anthropic.APIKey)

	runtime, err := provider.NewConfigStore(cfg.RuntimeConfigPath()).Load()
	if err != nil {
		fmt.Printf("Provider runtime: error (%v)\n", err)
	} else {
		fmt.Printf("Active provider: %s\n", runtime.ActiveProvider)
		fmt.Printf("Caps: %d requests / %d tokens per day (hard stop=%v)\n",
			runtime.Caps.DailyRequestsMax, runtime.Caps.DailyTokensMax, runtime.Caps.HardStopOnCap)
		fmt.Printf("Usage (%s): %d requests, %d tokens\n",
			runtime.Usage.Day, runtime.Usage.Requests, runtime.Usage.Tokens)
	}

	routing, err := provider.NewRoutingStore(cfg.RoutingConfigPath()).Load()
	if err != nil {
		fmt.Printf("Routing: error (%v)\n", err)
	} else {
		fmt.Printf("Routing: enabled=%v music=%s default=%s mode=%s override=%s\n",
			routing.Enabled, routing.MusicRouteProvider, routing.DefaultProvider,
			routing.GeneralRouteMode, routing.ManualOverride)
	}

	if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
		fmt.Println("Memory DB: not created yet")
	} else {
		fmt.Printf("Memory DB: %s\n", cfg.Memory.DBPath)
	}

	return nil
}

func runProvidersShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runtime, err := provider.NewConfigStore(cfg.RuntimeConfigPath()).Load()
	if err != nil {
		return fmt.Errorf("load provider runtime: %w", err)
	}
	routing, err := provider.NewRoutingStore(cfg.RoutingConfigPath()).Load()
	if err != nil {
		return fmt.Errorf("load routing config: %w", err)
	}

	out := map[string]any{"runtime": runtime, "routing": routing}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runProvidersSetActive(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	updated, err := provider.NewConfigStore(cfg.RuntimeConfigPath()).SetActiveProvider(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Active provider: %s\n", updated.ActiveProvider)
	return nil
}

func runProvidersSetCaps(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := provider.NewConfigStore(cfg.RuntimeConfigPath())
	current, err := store.Load()
	if err != nil {
		return fmt.Errorf("load provider runtime: %w", err)
	}

	caps := current.Caps
	if capRequests >= 0 {
		caps.DailyRequestsMax = capRequests
	}
	if capTokens >= 0 {
		caps.DailyTokensMax = capTokens
	}
	caps.HardStopOnCap = capHardStop

	updated, err := store.SetCaps(caps)
	if err != nil {
		return err
	}
	fmt.Printf("Caps: %d requests / %d tokens per day (hard stop=%v)\n",
		updated.Caps.DailyRequestsMax, updated.Caps.DailyTokensMax, updated.Caps.HardStopOnCap)
	return nil
}

func runProvidersRouting(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	patch := provider.RoutingControls{}
	if routeEnabled != "" {
		enabled := routeEnabled == "true" || routeEnabled == "1"
		patch.Enabled = &enabled
	}
	if routeOverride != "" {
		patch.ManualOverride = &routeOverride
	}
	if routeMode != "" {
		patch.GeneralRouteMode = &routeMode
	}
	if routeMusic != "" {
		patch.MusicRouteProvider = &routeMusic
	}
	if routeDefault != "" {
		patch.DefaultProvider = &routeDefault
	}

	_, updated, err := provider.NewRoutingStore(cfg.RoutingConfigPath()).UpdateControls(patch)
	if err != nil {
		return err
	}
	fmt.Printf("Routing: enabled=%v music=%s default=%s mode=%s override=%s\n",
		updated.Enabled, updated.MusicRouteProvider, updated.DefaultProvider,
		updated.GeneralRouteMode, updated.ManualOverride)
	return nil
}

func printKeyStatus(name, key string) {
	switch {
	case key == "":
		fmt.Printf("%s key: not set\n", name)
	case len(key) > 8:
		fmt.Printf("%s key: %s...%s\n", name, key[:4], key[len(key)-4:])
	default:
		fmt.Printf("%s key: set\n", name)
	}
}

func writeIfNotExists(path, content string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultPersonaPolicy = `Roonie persona policy.

Voice: warm, concise, chat-native. One to two sentences per reply.
Never pile on a viewer, never speculate about private details, never
argue moderation calls in chat.

When unsure about a track or a fact, hedge briefly instead of guessing.
Plug-style phrasing only when a viewer asks where to find the music.
`
