// Package main is the entry point for the council CLI. It fans a question
// out to a council of LLMs, has them rank each other's answers anonymously,
// and asks a chairman model to synthesize the final response.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/council/internal/bus"
	"github.com/normanking/council/internal/config"
	"github.com/normanking/council/internal/council"
	"github.com/normanking/council/internal/data"
	"github.com/normanking/council/internal/llm"
	"github.com/normanking/council/internal/logging"
	"github.com/normanking/council/internal/tier"
	"github.com/normanking/council/internal/transcript"
)

// Verify-mode exit codes.
const (
	exitPass        = 0
	exitFail        = 1
	exitUnclear     = 2
	exitOperational = 3
)

var (
	version = "0.1.0"

	cfgPath   string
	verbose   bool
	jsonOut   bool
	tierName  string
	modeName  string
	details   bool
	threshold float64

	log *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "council",
		Short: "Council - multi-model LLM deliberation",
		Long: `Council sends a question to several LLMs in parallel, has them rank
each other's answers anonymously against a fixed rubric, and asks a
chairman model to synthesize the final response.

Ask a question:      council ask "how should I shard this queue?"
Verify a statement:  council verify "this patch is race-free"
Recent runs:         council history`,
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.council/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit the result envelope as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Council v%s\n", version)
		},
	})
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	cfg.Console = verbose

	l, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log = l
	logging.SetGlobal(l.Zerolog())
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// session bundles everything a deliberation command needs.
type session struct {
	cfg          *config.Config
	orchestrator *council.Orchestrator
	events       *bus.Bus
	store        *data.Store
	metrics      map[string]*llm.MetricsProvider
}

func (s *session) close() {
	for name, m := range s.metrics {
		snap := m.Snapshot()
		if snap.TotalCalls == 0 {
			continue
		}
		zl := log.Zerolog()
		zl.Debug().
			Str("provider", name).
			Int64("calls", snap.TotalCalls).
			Int64("errors", snap.TotalErrors).
			Int64("avg_latency_ms", snap.AvgLatencyMS).
			Msg("gateway usage")
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.events != nil {
		s.events.Close()
	}
}

// newSession wires config, gateways, transcripts, history, and the engine.
func newSession(contract tier.Contract) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engineCfg := contract.Apply(cfg.ToCouncil())

	registry, metrics := llm.BuildRegistry(cfg.Gateways, log.Component("llm"))
	writer, err := transcript.NewWriter(cfg.Storage.TranscriptDir)
	if err != nil {
		return nil, err
	}
	events := bus.New(log.Component("bus"))

	o, err := council.New(registry, engineCfg,
		council.WithBus(events),
		council.WithTranscripts(writer),
		council.WithLogger(log.Component("council")),
	)
	if err != nil {
		events.Close()
		return nil, err
	}

	store, err := data.Open(cfg.Storage.HistoryDB)
	if err != nil {
		events.Close()
		return nil, err
	}
	return &session{cfg: cfg, orchestrator: o, events: events, store: store, metrics: metrics}, nil
}

// watchProgress prints stage transitions to stderr while a run is going.
func watchProgress(events *bus.Bus) func() {
	sub := events.Subscribe("", 0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C {
			switch ev.Kind {
			case bus.KindDeliberationStart:
				fmt.Fprintln(os.Stderr, "council convened, querying members...")
			case bus.KindStage1Complete:
				fmt.Fprintf(os.Stderr, "stage 1 complete: %v responded, %v failed\n", ev.Data["responded"], ev.Data["failed"])
			case bus.KindStage2Complete:
				fmt.Fprintf(os.Stderr, "stage 2 complete: %v rankings collected\n", ev.Data["rankings"])
			case bus.KindStage3Complete:
				fmt.Fprintln(os.Stderr, "chairman synthesis complete")
			}
		}
	}()
	return func() {
		events.Unsubscribe(sub.ID)
		<-done
	}
}

func recordHistory(ctx context.Context, s *session, prompt string, res *council.Result) {
	d := &data.Deliberation{
		RequestID:      res.RequestID,
		Mode:           string(res.Mode),
		Prompt:         prompt,
		Chairman:       res.Chairman,
		TranscriptPath: res.TranscriptDir,
		StartedAt:      res.StartedAt,
		EndedAt:        res.EndedAt,
	}
	if res.Verdict != nil {
		v := string(*res.Verdict)
		d.Verdict = &v
	}
	d.Confidence = res.Confidence
	if len(res.Aggregate) > 0 {
		d.WinnerModel = res.Aggregate[0].Model
	}
	if err := s.store.SaveDeliberation(ctx, d); err != nil {
		zl := log.Zerolog()
		zl.Warn().Err(err).Msg("failed to record history")
	}
}

func printResult(res *council.Result) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Println(res.FinalResponse)
	fmt.Println()
	if res.Confidence != nil {
		fmt.Printf("confidence: %.2f", *res.Confidence)
	}
	if res.Verdict != nil {
		fmt.Printf("  verdict: %s", *res.Verdict)
	}
	if len(res.Aggregate) > 0 {
		fmt.Printf("  top-ranked: %s", res.Aggregate[0].Model)
	}
	fmt.Println()
	if res.TranscriptDir != "" {
		fmt.Printf("transcript: %s\n", res.TranscriptDir)
	}
	return nil
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Put a question to the council",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := tier.Parse(tierName)
			if err != nil {
				return err
			}
			mode := council.Mode(modeName)
			if mode != council.ModeConsensus && mode != council.ModeDebate {
				return fmt.Errorf("unknown mode %q (want consensus or debate)", modeName)
			}

			s, err := newSession(contract)
			if err != nil {
				return err
			}
			defer s.close()

			if !jsonOut {
				stop := watchProgress(s.events)
				defer stop()
			}

			prompt := strings.Join(args, " ")
			res, err := s.orchestrator.Deliberate(cmd.Context(), council.Query{
				Prompt:         prompt,
				Mode:           mode,
				IncludeDetails: details,
			})
			if err != nil {
				return err
			}

			recordHistory(cmd.Context(), s, prompt, res)
			return printResult(res)
		},
	}
	cmd.Flags().StringVar(&tierName, "confidence", string(tier.Balanced), "confidence tier: "+strings.Join(tier.Names(), ", "))
	cmd.Flags().StringVar(&modeName, "mode", string(council.ModeConsensus), "synthesis mode: consensus or debate")
	cmd.Flags().BoolVar(&details, "details", false, "include per-model detail arrays in the result")
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <statement>",
		Short: "Ask the council for a pass/fail verdict on a statement",
		Long: `Verify runs a binary-verdict deliberation and maps the outcome to the
exit code: 0 pass, 1 fail, 2 unclear, 3 operational error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contract, err := tier.Parse(tierName)
			if err != nil {
				return err
			}
			s, err := newSession(contract)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(exitOperational)
			}

			prompt := strings.Join(args, " ")
			res, err := s.orchestrator.Deliberate(cmd.Context(), council.Query{
				Prompt:              prompt,
				Mode:                council.ModeConsensus,
				VerdictType:         council.VerdictBinary,
				ConfidenceThreshold: threshold,
				IncludeDetails:      details,
			})
			if err != nil {
				s.close()
				fmt.Fprintf(os.Stderr, "error: %s: %v\n", council.KindOf(err), err)
				os.Exit(exitOperational)
			}

			recordHistory(cmd.Context(), s, prompt, res)
			if perr := printResult(res); perr != nil {
				zl := log.Zerolog()
				zl.Warn().Err(perr).Msg("failed to print result")
			}
			s.close()

			code := exitUnclear
			if res.Verdict != nil {
				switch *res.Verdict {
				case council.VerdictPass:
					code = exitPass
				case council.VerdictFail:
					code = exitFail
				}
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&tierName, "confidence", string(tier.Balanced), "confidence tier: "+strings.Join(tier.Names(), ", "))
	cmd.Flags().Float64Var(&threshold, "threshold", 0.6, "confidence required for a pass verdict")
	cmd.Flags().BoolVar(&details, "details", false, "include per-model detail arrays in the result")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent deliberations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := data.Open(cfg.Storage.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Println("no deliberations recorded")
				return nil
			}
			for _, r := range runs {
				verdict := "-"
				if r.Verdict != nil {
					verdict = *r.Verdict
				}
				confidence := "-"
				if r.Confidence != nil {
					confidence = fmt.Sprintf("%.2f", *r.Confidence)
				}
				prompt := r.Prompt
				if len(prompt) > 60 {
					prompt = prompt[:57] + "..."
				}
				fmt.Printf("%s  %-9s verdict=%-7s conf=%-5s winner=%-30s %s\n",
					r.StartedAt.Local().Format("2006-01-02 15:04"),
					r.Mode, verdict, confidence, r.WinnerModel, prompt)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func healthCmd() *cobra.Command {
	var pingModel string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway connectivity and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			registry, metrics := llm.BuildRegistry(cfg.Gateways, log.Component("llm"))

			fmt.Printf("council members: %s\n", strings.Join(cfg.Council.Models, ", "))
			fmt.Printf("chairman:        %s\n", cfg.Council.ChairmanModel)
			for _, p := range registry.Providers() {
				status := "ready"
				if !p.Available() {
					status = "not configured"
				}
				fmt.Printf("gateway %-12s %s\n", p.Name()+":", status)
			}

			if pingModel == "" {
				pingModel = cfg.Council.NormalizerModel
			}
			if pingModel == "" {
				pingModel = cfg.Council.Models[0]
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			start := time.Now()
			_, err = registry.Call(ctx, pingModel, "", "Reply with the single word: ok")
			if err != nil {
				return fmt.Errorf("ping %s failed: %w", pingModel, err)
			}
			fmt.Printf("ping %-17s ok (%dms)\n", pingModel+":", time.Since(start).Milliseconds())

			names := make([]string, 0, len(metrics))
			for name := range metrics {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				snap := metrics[name].Snapshot()
				fmt.Printf("metrics %-12s %d calls, %d errors, avg %dms\n",
					name+":", snap.TotalCalls, snap.TotalErrors, snap.AvgLatencyMS)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pingModel, "model", "", "model to ping (default: the normalizer model)")
	return cmd
}
