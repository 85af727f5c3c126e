package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deliberation-engine/council/pkg/bias"
	"github.com/deliberation-engine/council/pkg/config"
	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/database"
	"github.com/deliberation-engine/council/pkg/events"
	"github.com/deliberation-engine/council/pkg/gateway"
	"github.com/deliberation-engine/council/pkg/orchestrator"
	"github.com/deliberation-engine/council/pkg/registry"
	"github.com/deliberation-engine/council/pkg/tier"
	"github.com/deliberation-engine/council/pkg/transcript"
)

var (
	deliberatePrompt      string
	deliberateMode        string
	deliberateVerdictType string
	deliberateTierLabel   string
	deliberateChain       string
	deliberateGatewayAddr string
	deliberateTranscripts string
	deliberateDeadlineMS  int64
	deliberateJSON        bool
)

var deliberateCmd = &cobra.Command{
	Use:   "deliberate",
	Args:  cobra.NoArgs,
	Short: "Run one deliberation session and print its sealed result",
	Long: `Runs the full parallel-generation / peer-review / synthesis protocol for a
single prompt against the configured model panel, printing either the
synthesis text or the full DeliberationResult JSON, and exiting with a
status code describing the outcome.`,
	RunE: runDeliberate,
}

func init() {
	deliberateCmd.Flags().StringVar(&deliberatePrompt, "prompt", "", "the prompt to deliberate over (required)")
	deliberateCmd.Flags().StringVar(&deliberateMode, "mode", "consensus", "deliberation mode: consensus, debate, binary-verdict")
	deliberateCmd.Flags().StringVar(&deliberateVerdictType, "verdict-type", "free-form", "verdict type: free-form, binary, rubric")
	deliberateCmd.Flags().StringVar(&deliberateTierLabel, "tier", "standard", "minimum model tier: quick, standard, high, frontier")
	deliberateCmd.Flags().StringVar(&deliberateChain, "chain", "default", "named chain configuration to use")
	deliberateCmd.Flags().StringVar(&deliberateGatewayAddr, "gateway-addr", getEnv("GATEWAY_ADDR", "localhost:9090"), "gRPC address of the model gateway backend")
	deliberateCmd.Flags().StringVar(&deliberateTranscripts, "transcripts-dir", getEnv("TRANSCRIPTS_DIR", "./transcripts"), "directory to write the session transcript under")
	deliberateCmd.Flags().Int64Var(&deliberateDeadlineMS, "deadline-ms", 0, "overall session deadline in milliseconds (0 = no deadline)")
	deliberateCmd.Flags().BoolVar(&deliberateJSON, "json", false, "print the full DeliberationResult as JSON instead of just the synthesis")
}

func runDeliberate(cmd *cobra.Command, args []string) error {
	if deliberatePrompt == "" {
		return fmt.Errorf("--prompt is required")
	}

	envPath := configDir + "/.env"
	if err := godotenv.Load(envPath); err != nil && verbose {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envPath, err)
	}

	ctx := context.Background()

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(4)
	}

	chain, err := cfg.ChainRegistry.Get(deliberateChain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown chain %q: %v\n", deliberateChain, err)
		os.Exit(4)
	}

	var tracker *bias.Tracker
	dbCfg, dbErr := database.LoadConfigFromEnv()
	if dbErr == nil {
		if dbClient, err := database.NewClient(ctx, dbCfg); err == nil {
			defer dbClient.Close()
			tracker = bias.NewTracker(dbClient)
		} else if verbose {
			fmt.Fprintf(os.Stderr, "warning: bias tracking disabled, database unavailable: %v\n", err)
		}
	} else if verbose {
		fmt.Fprintf(os.Stderr, "warning: bias tracking disabled: %v\n", dbErr)
	}

	reg := registry.New(cfg.Models, chain.Offline, nil, 0)
	selector := tier.New(tier.DefaultWeights)

	backend, err := gateway.DialGRPCBackend(deliberateGatewayAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to gateway backend: %v\n", err)
		os.Exit(4)
	}
	defer backend.Close()
	gw := gateway.New(backend)

	tierVal, ok := council.ParseTier(deliberateTierLabel)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown tier %q\n", deliberateTierLabel)
		os.Exit(4)
	}

	q := council.Query{
		ID:          fmt.Sprintf("cli-%d", time.Now().UnixNano()),
		Prompt:      deliberatePrompt,
		Mode:        council.Mode(deliberateMode),
		VerdictType: council.VerdictType(deliberateVerdictType),
		Tier:        tierVal,
	}
	if deliberateDeadlineMS > 0 {
		q.Deadline = time.Now().Add(time.Duration(deliberateDeadlineMS) * time.Millisecond)
	}

	orch := orchestrator.New(reg, selector, gw, tracker, *chain, rand.New(rand.NewSource(time.Now().UnixNano())))
	if deliberateTranscripts != "" {
		w, err := transcript.Open(deliberateTranscripts, q.ID)
		if err == nil {
			orch = orch.WithTranscript(w)
			defer w.Close()
		} else if verbose {
			fmt.Fprintf(os.Stderr, "warning: transcript disabled: %v\n", err)
		}
	}

	bus := events.NewBus()
	result, runErr := orch.Run(ctx, q, bus)

	if deliberateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else if runErr == nil {
		fmt.Println(result.Synthesis)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}

	os.Exit(cliExitCode(result, runErr))
	return nil
}

// cliExitCode maps a sealed or failed session onto the documented process
// exit codes: 0 pass/synthesis produced, 1 fail, 2 unclear/low-confidence,
// 3 insufficient-panel, 4 system error. This is distinct from (and computed
// independently of) DeliberationResult.ExitCode, which the orchestrator
// sets to classify its own internal failure reason for the transcript and
// result.json record rather than to satisfy this CLI's contract.
func cliExitCode(result council.DeliberationResult, err error) int {
	if err != nil {
		// Orchestrator internal codes 2 ("insufficient-panel") and 3
		// ("insufficient-stage1-survivors" / "insufficient-stage2-reviewers")
		// both fall under spec.md §7's "Panel insufficiency" error category,
		// which this CLI's contract reports as exit code 3.
		if result.ExitCode == 2 || result.ExitCode == 3 {
			return 3
		}
		return 4
	}
	if result.Aggregate.Verdict != nil {
		switch *result.Aggregate.Verdict {
		case council.VerdictPass:
			return 0
		case council.VerdictFail:
			return 1
		default:
			return 2
		}
	}
	if result.Aggregate.LowConfidence {
		return 2
	}
	return 0
}
