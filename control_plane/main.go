package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/itskum47/fleetops/control_plane/config"
	"github.com/itskum47/fleetops/control_plane/middleware"
	"github.com/itskum47/fleetops/control_plane/streaming"
	"github.com/itskum47/fleetops/control_plane/trust"
)

var (
	v          = config.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "fleetops",
	Short: "FleetOps control plane",
	Long: `FleetOps gates input from external maritime and military systems with a
weighted trust score and coordinates joint missions across those systems.

- serve:    run the HTTP API, event stream and periodic mission sync
- evaluate: score a single message from the command line
- token:    mint a bearer token for the API`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("trust-file", "", "YAML trust seed file")
	_ = v.BindPFlag("trust_file", rootCmd.PersistentFlags().Lookup("trust-file"))

	rootCmd.AddCommand(newServeCmd(), newEvaluateCmd(), newTokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(v, configFile)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("http-addr", "", "listen address (default :8080)")
	cmd.Flags().String("store", "", "store backend: memory, postgres or redis")
	cmd.Flags().Duration("sync-interval", 0, "periodic mission re-sync interval (0 disables)")
	bindFlag(cmd, "http_addr", "http-addr")
	bindFlag(cmd, "store", "store")
	bindFlag(cmd, "sync_interval", "sync-interval")
	return cmd
}

// bindFlag binds a flag to a config key only when the flag is set, so unset
// flags do not shadow file or environment values.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	prev := cmd.PreRunE
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		if prev != nil {
			if err := prev(c, args); err != nil {
				return err
			}
		}
		if f.Changed {
			v.Set(key, f.Value.String())
		}
		return nil
	}
}

func newEvaluateCmd() *cobra.Command {
	var (
		source, proto, payload, ip string
		asJSON, verbose            bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score one message against the trust rules",
		Example: `  fleetops evaluate --trust-file trust.yaml --source banned-system --protocol json-rpc --payload '{"jsonrpc":"2.0","method":"x"}'
  fleetops evaluate --trust-file trust.yaml --source ais-gw --protocol ais --payload '{"mmsi":1,"lat":1,"lon":2}' --ip 192.0.2.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" || proto == "" {
				return fmt.Errorf("--source and --protocol are required")
			}
			var body map[string]interface{}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &body); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}

			registry := trust.NewMemoryRegistry(nil, nil)
			if file := v.GetString("trust_file"); file != "" {
				seed, err := trust.LoadSeedFile(file)
				if err != nil {
					return err
				}
				if err := seed.Apply(cmd.Context(), registry); err != nil {
					return err
				}
			}

			var opts []trust.Option
			if verbose {
				opts = append(opts, trust.WithPublisher(streaming.NewLogPublisher()))
			}
			eval := trust.NewEvaluator(registry, nil, opts...).Evaluate(cmd.Context(), source, proto, body, ip)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(eval)
			}
			printEvaluation(eval)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source system identity")
	cmd.Flags().StringVar(&proto, "protocol", "", "protocol tag (json-rpc, ais, stanag, ...)")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	cmd.Flags().StringVar(&ip, "ip", "", "source IP (optional)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log the published evaluation event")
	return cmd
}

func printEvaluation(eval *trust.TrustEvaluation) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s via %s: score %d (%s)", eval.SourceSystem, eval.Protocol, eval.TrustScore, eval.ComplianceStatus))
	tw.AppendHeader(table.Row{"Check", "Passed", "Score", "Message"})
	for _, c := range eval.Checks {
		tw.AppendRow(table.Row{c.CheckName, c.Passed, c.Score, c.Message})
	}
	tw.Render()

	if len(eval.Alerts) > 0 {
		at := table.NewWriter()
		at.SetOutputMirror(os.Stdout)
		at.AppendHeader(table.Row{"Alert", "Action", "Message"})
		for _, a := range eval.Alerts {
			at.AppendRow(table.Row{strings.ToUpper(a.Level.String()), a.Action, a.Message})
		}
		at.Render()
	}
	for _, r := range eval.Recommendations {
		fmt.Println("-", r)
	}
}

func newTokenCmd() *cobra.Command {
	var (
		subject, role string
		ttl           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			auth, err := middleware.NewAuthenticator(cfg.JWTSecret)
			if err != nil {
				return err
			}
			tok, err := auth.GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator identity")
	cmd.Flags().StringVar(&role, "role", middleware.RoleViewer, "viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
