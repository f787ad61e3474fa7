package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leboy/internal/app"
	"leboy/internal/config"
	"leboy/internal/domain"
	"leboy/internal/engine"
	"leboy/internal/repo"
	"leboy/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "leboy",
	Short: "LeBoy mission back office",
	Long: `LeBoy connects diaspora clients with service providers in Cameroon,
mediated by an operations admin. Missions move through a fixed lifecycle:
created, assigned, estimated, paid, advance sent, in progress, validated,
confirmed, completed. This CLI drives the same engine as the HTTP API.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LEBOY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("role", "admin", "acting role (client, prestataire, admin)")
	rootCmd.PersistentFlags().String("email", "", "acting email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("email", rootCmd.PersistentFlags().Lookup("email"))
}

func registerCommands() {
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(commissionCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func actor() engine.Actor {
	return engine.Actor{
		Role:  domain.Role(viper.GetString("role")),
		Email: viper.GetString("email"),
	}
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Manage missions"}
	m.AddCommand(missionCreateCmd())
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	m.AddCommand(missionAssignCmd())
	m.AddCommand(missionEstimateCmd())
	m.AddCommand(missionRequestPaymentCmd())
	m.AddCommand(missionConfirmPaymentCmd())
	m.AddCommand(missionAdvanceCmd())
	m.AddCommand(missionTakeoverCmd())
	m.AddCommand(missionSubmitCmd())
	m.AddCommand(missionConfirmCmd())
	m.AddCommand(missionBalancePaidCmd())
	m.AddCommand(missionCloseCmd())
	m.AddCommand(missionArchiveCmd())
	m.AddCommand(missionRestoreCmd())
	m.AddCommand(missionDeleteCmd())
	m.AddCommand(missionProofCmd())
	m.AddCommand(missionSummaryCmd())
	m.AddCommand(missionPurgeCmd())
	return m
}

func missionPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete missions archived past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.PurgeExpiredArchives(ctx, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"purged": n})
			})
		},
	}
}

func missionSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count active missions per state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.MissionSummary(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(counts)
			})
		},
	}
}

func missionCreateCmd() *cobra.Command {
	var opts engine.MissionCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateMission(ctx, opts, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientEmail, "client-email", "", "client email")
	cmd.Flags().StringVar(&opts.Category, "category", "", "service category")
	cmd.Flags().StringVar(&opts.Title, "title", "", "mission title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("client-email")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func missionListCmd() *cobra.Command {
	var f repo.MissionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				missions, err := e.ListMissions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(missions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Reference", "Title", "State", "Progress", "Client", "Provider"})
				for _, m := range missions {
					provider := ""
					if m.ProviderID != nil {
						provider = *m.ProviderID
					}
					tw.AppendRow(table.Row{m.Reference, m.Title, m.InternalState.Display(),
						fmt.Sprintf("%d%%", m.InternalState.Progress()), m.ClientEmail, provider})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().StringVar(&f.ProviderID, "provider", "", "provider id filter")
	cmd.Flags().StringVar(&f.ClientEmail, "client-email", "", "client email filter")
	cmd.Flags().BoolVar(&f.ArchivedOnly, "archived", false, "show archived only")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func missionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show mission with phases, proofs and timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"mission":  m,
						"status":   m.InternalState.Display(),
						"progress": m.InternalState.Progress(),
						"steps":    domain.Steps(m),
					})
				}
				fmt.Printf("%s  %s\n", m.Reference, m.Title)
				fmt.Printf("State: %s (%s, %d%%)\n", m.InternalState, m.InternalState.Display(), m.InternalState.Progress())
				fmt.Printf("Client: %s\n", m.ClientEmail)
				if m.ProviderID != nil {
					fmt.Printf("Provider: %s\n", *m.ProviderID)
				}
				if m.Estimation != nil {
					fmt.Printf("Estimation: %d XAF / %dh\n", m.Estimation.Price, m.Estimation.DelayHours)
				}
				fmt.Println("Timeline:")
				for _, s := range domain.Steps(m) {
					marker := " "
					switch {
					case s.Completed:
						marker = "x"
					case s.Unlocked:
						marker = ">"
					}
					fmt.Printf("  [%s] %s\n", marker, s.Label)
				}
				if len(m.Phases) > 0 {
					fmt.Println("Phases:")
					for _, p := range m.Phases {
						marker := " "
						if p.Completed {
							marker = "x"
						}
						delay := ""
						if p.Retard {
							delay = " (en retard)"
						}
						fmt.Printf("  [%s] %d. %s%s\n", marker, p.Ordre, p.Name, delay)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func missionAssignCmd() *cobra.Command {
	var providerID, providerEmail string
	cmd := &cobra.Command{
		Use:   "assign <mission-id>",
		Short: "Assign provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AssignProvider(ctx, args[0], providerID, providerEmail, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&providerID, "provider", "", "provider id")
	cmd.Flags().StringVar(&providerEmail, "provider-email", "", "provider email")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func missionEstimateCmd() *cobra.Command {
	var opts engine.EstimationOptions
	cmd := &cobra.Command{
		Use:   "estimate <mission-id>",
		Short: "Submit or revise estimation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitEstimation(ctx, args[0], opts, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "price in XAF")
	cmd.Flags().IntVar(&opts.DelayHours, "delay-hours", 0, "execution delay in hours")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-text note")
	cmd.Flags().IntVar(&opts.DelaiMaximalHours, "max-hours", 0, "declared maximum execution window")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("delay-hours")
	return cmd
}

func missionRequestPaymentCmd() *cobra.Command {
	return missionTransitionCmd("request-payment", "Accept estimation and request client payment",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.RequestClientPayment(ctx, id, actor())
		})
}

func missionConfirmPaymentCmd() *cobra.Command {
	return missionTransitionCmd("confirm-payment", "Confirm client payment received",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.ConfirmPayment(ctx, id, actor())
		})
}

func missionAdvanceCmd() *cobra.Command {
	var pct int
	cmd := &cobra.Command{
		Use:   "advance <mission-id>",
		Short: "Send advance to provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SendAdvance(ctx, args[0], pct, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().IntVar(&pct, "percentage", 50, "advance percentage")
	return cmd
}

func missionTakeoverCmd() *cobra.Command {
	return missionTransitionCmd("takeover", "Provider takes over the mission",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.TakeOverMission(ctx, id, actor())
		})
}

func missionSubmitCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "submit <mission-id>",
		Short: "Submit proofs for validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitProofsForValidation(ctx, args[0], comment, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "submission comment")
	return cmd
}

func missionConfirmCmd() *cobra.Command {
	var soldePaid bool
	cmd := &cobra.Command{
		Use:   "confirm <mission-id>",
		Short: "Admin confirms completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.ConfirmCompletion(ctx, args[0], soldePaid, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().BoolVar(&soldePaid, "solde-paid", false, "final balance transferred with validation")
	return cmd
}

func missionBalancePaidCmd() *cobra.Command {
	return missionTransitionCmd("balance-paid", "Flag final balance transfer",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.MarkBalancePaid(ctx, id, actor())
		})
}

func missionCloseCmd() *cobra.Command {
	return missionTransitionCmd("close", "Close mission",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.CloseMission(ctx, id, actor())
		})
}

func missionArchiveCmd() *cobra.Command {
	return missionTransitionCmd("archive", "Archive mission",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.ArchiveMission(ctx, id, actor())
		})
}

func missionRestoreCmd() *cobra.Command {
	return missionTransitionCmd("restore", "Restore archived mission",
		func(ctx context.Context, e engine.Engine, id string) (domain.Mission, error) {
			return e.RestoreMission(ctx, id, actor())
		})
}

func missionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <mission-id>",
		Short: "Delete mission permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteMission(ctx, args[0], actor())
			})
		},
	}
	return cmd
}

func missionProofCmd() *cobra.Command {
	var opts engine.ProofOptions
	cmd := &cobra.Command{
		Use:   "proof <mission-id>",
		Short: "Attach proof metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddProof(ctx, args[0], opts, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Filename, "filename", "", "file name")
	cmd.Flags().StringVar(&opts.ContentType, "content-type", "", "content type")
	cmd.Flags().Int64Var(&opts.SizeBytes, "size", 0, "file size in bytes")
	cmd.Flags().StringVar(&opts.URL, "url", "", "storage URL")
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}

func missionTransitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (domain.Mission, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <mission-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func phaseCmd() *cobra.Command {
	p := &cobra.Command{Use: "phase", Short: "Manage execution phases"}
	p.AddCommand(phaseAddCmd())
	p.AddCommand(phaseToggleCmd())
	p.AddCommand(phaseDeleteCmd())
	p.AddCommand(phaseRetardCmd())
	p.AddCommand(phaseNoteCmd())
	return p
}

func phaseAddCmd() *cobra.Command {
	var opts engine.PhaseCreateOptions
	cmd := &cobra.Command{
		Use:   "add <mission-id>",
		Short: "Add execution phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddPhase(ctx, args[0], opts, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().IntVar(&opts.Ordre, "ordre", 0, "position in the checklist")
	cmd.Flags().StringVar(&opts.Name, "name", "", "phase name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("ordre")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func phaseToggleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <mission-id> <phase-id>",
		Short: "Toggle phase completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.TogglePhase(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func phaseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <mission-id> <phase-id>",
		Short: "Delete phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.DeletePhase(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func phaseRetardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retard <mission-id> <phase-id>",
		Short: "Flag phase as delayed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.FlagPhaseRetard(ctx, args[0], args[1], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func phaseNoteCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "note <mission-id> <phase-id>",
		Short: "Attach delay note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.MarkPhaseDelayed(ctx, args[0], args[1], note, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "delay explanation")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func messageCmd() *cobra.Command {
	m := &cobra.Command{Use: "message", Short: "Mission messaging"}
	m.AddCommand(messageSendCmd())
	m.AddCommand(messageListCmd())
	m.AddCommand(messageReadCmd())
	return m
}

func messageSendCmd() *cobra.Command {
	var targetRole, targetEmail, content, msgType string
	cmd := &cobra.Command{
		Use:   "send <mission-id>",
		Short: "Send message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msg, err := e.SendMessage(ctx, args[0], engine.MessageOptions{
					TargetRole:  domain.Role(targetRole),
					TargetEmail: targetEmail,
					Content:     content,
					Type:        domain.MessageType(msgType),
				}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	}
	cmd.Flags().StringVar(&targetRole, "to-role", "", "target role (admin senders only)")
	cmd.Flags().StringVar(&targetEmail, "to-email", "", "target email (admin senders only)")
	cmd.Flags().StringVar(&content, "content", "", "message body")
	cmd.Flags().StringVar(&msgType, "type", "chat", "message type (chat, email)")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func messageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <mission-id>",
		Short: "List messages visible to the acting role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.ListMessagesFor(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "From", "To", "Type", "Read", "Content"})
				for _, m := range msgs {
					tw.AppendRow(table.Row{m.Seq, m.From, m.To, m.Type, m.Lu, m.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func messageReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <mission-id>",
		Short: "Mark visible messages as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.MarkMessagesRead(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"marked": n})
			})
		},
	}
	return cmd
}

func commissionCmd() *cobra.Command {
	c := &cobra.Command{Use: "commission", Short: "Commission configuration and quotes"}
	c.AddCommand(commissionQuoteCmd())
	c.AddCommand(commissionListCmd())
	c.AddCommand(commissionSetCmd())
	c.AddCommand(commissionDeleteCmd())
	return c
}

func commissionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <category>",
		Short: "Delete commission category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteCommissionConfig(ctx, args[0], actor()); err != nil {
					return err
				}
				fmt.Printf("Category %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func commissionQuoteCmd() *cobra.Command {
	var category string
	var price int64
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute commission for a price",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				amount, cfg, err := e.CommissionQuote(ctx, category, price)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"category":   cfg.Category,
					"price":      price,
					"commission": amount,
					"total":      price + amount,
				})
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "service category")
	cmd.Flags().Int64Var(&price, "price", 0, "price in XAF")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func commissionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commission categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListCommissionConfigs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Name", "Base %", "Min", "Max", "Risk %", "Enabled"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Category, c.Name, c.BasePercent, c.MinCommission, c.MaxCommission, c.RiskPercent, c.Enabled})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commissionSetCmd() *cobra.Command {
	var cfg domain.CommissionConfig
	cmd := &cobra.Command{
		Use:   "set <category>",
		Short: "Update commission category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Category = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.UpdateCommissionConfig(ctx, cfg, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&cfg.Name, "name", "", "display name")
	cmd.Flags().Float64Var(&cfg.BasePercent, "base-percent", 0, "base percentage")
	cmd.Flags().Int64Var(&cfg.MinCommission, "min", 0, "minimum commission in XAF")
	cmd.Flags().Int64Var(&cfg.MaxCommission, "max", 0, "maximum commission in XAF")
	cmd.Flags().Float64Var(&cfg.RiskPercent, "risk-percent", 0, "risk surcharge percentage")
	cmd.Flags().BoolVar(&cfg.Enabled, "enabled", true, "enabled")
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{Use: "apikey", Short: "API key management"}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var role, email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, raw, err := e.CreateAPIKey(ctx, domain.Role(role), email, name, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":    k.ID,
					"role":  k.Role,
					"email": k.Email,
					"key":   raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&role, "key-role", "", "role bound to the key")
	cmd.Flags().StringVar(&email, "key-email", "", "email bound to the key")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("key-role")
	_ = cmd.MarkFlagRequired("key-email")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAPIKeys(ctx, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAPIKey(ctx, args[0], actor())
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var missionID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					events []domain.Event
					err    error
				)
				if missionID != "" {
					events, err = e.MissionEvents(ctx, missionID, n)
				} else {
					latest, idErr := e.Repo.LatestEventID(ctx)
					if idErr != nil {
						return idErr
					}
					after := latest - int64(n)
					if after < 0 {
						after = 0
					}
					events, err = e.Repo.EventsAfter(ctx, after, n)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&missionID, "mission", "", "mission id filter")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default leboy.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return c
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, conn, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("LEBOY_JWT_SECRET"),
				AllowLegacyRoleHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("LEBOY_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving LeBoy API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-headers", false, "accept X-Role/X-Email headers without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
