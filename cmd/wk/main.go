package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workload/internal/app"
	"workload/internal/capacity"
	"workload/internal/config"
	"workload/internal/db"
	"workload/internal/domain"
	"workload/internal/engine"
	"workload/internal/importer"
	"workload/internal/migrate"
	"workload/internal/repo"
	"workload/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wk",
	Short: "Workload capacity CLI",
	Long: `wk tracks team members, the work items they own and the hours they log,
and keeps a weekly capacity snapshot per member.
- Planned hours come from each active item's effort size times its role, work type and phase weights.
- Governance items contribute their direct hours per week instead.
- Actual hours are the effort logged for the week; they drive the capacity status (under, normal, near, over, critical).
- Every change to an item, its owner or an effort entry recomputes the affected members.
- Event log: every mutation and recalculation, view with 'wk log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKLOAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("db", "", "database file (default: <workspace>/.workload/workload.db)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
}

func setupLogging() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(effortCmd())
	rootCmd.AddCommand(weightsCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration (workload.yml)"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default workload.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	cfg.AddCommand(initCmd, showCmd)
	return cfg
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage team members"}
	m.AddCommand(memberAddCmd(), memberListCmd(), memberUpdateCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var opts engine.MemberCreateOptions
	var hours float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a team member",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("available-hours") {
				opts.AvailableHours = &hours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateMember(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "member id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "job role")
	cmd.Flags().Float64Var(&hours, "available-hours", 0, "weekly hours, overrides the nominal week")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func memberListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				members, err := r.ListMembers(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := newTable(table.Row{"ID", "Name", "Role", "Available", "Active"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.ID, m.Name, m.Role, floatOrDash(m.AvailableHours), m.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active members")
	return cmd
}

func memberUpdateCmd() *cobra.Command {
	var name, role string
	var hours float64
	var clearHours, active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MemberUpdateOptions{ID: args[0], ClearAvailableHours: clearHours, ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("role") {
				opts.Role = &role
			}
			if cmd.Flags().Changed("available-hours") {
				opts.AvailableHours = &hours
			}
			if cmd.Flags().Changed("active") {
				opts.Active = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, warnings, err := e.UpdateMember(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "job role")
	cmd.Flags().Float64Var(&hours, "available-hours", 0, "weekly hours")
	cmd.Flags().BoolVar(&clearHours, "clear-available-hours", false, "fall back to the nominal week")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Manage work items"}
	it.AddCommand(itemAddCmd(), itemListCmd(), itemUpdateCmd(), itemReassignCmd(), itemDeleteCmd(), itemUnassignedCmd())
	return it
}

func itemAddCmd() *cobra.Command {
	var opts engine.WorkItemCreateOptions
	var status string
	var direct float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Status = domain.WorkItemStatus(status)
			if cmd.Flags().Changed("direct-hours") {
				opts.DirectHoursPerWeek = &direct
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, warnings, err := e.CreateWorkItem(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "work item id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Kind, "kind", domain.KindInitiative, "initiative or adhoc")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owning member id")
	cmd.Flags().StringVar(&opts.Role, "role", "", "owner's role on the item (Primary, Secondary, ...)")
	cmd.Flags().StringVar(&opts.WorkType, "work-type", "", "work type (Epic, Policy, Governance, ...)")
	cmd.Flags().StringVar(&opts.Phase, "phase", "", "phase (Discovery, Design, Build, ...)")
	cmd.Flags().StringVar(&opts.EffortSize, "size", "", "effort size XS|S|M|L|XL")
	cmd.Flags().StringVar(&status, "status", string(domain.StatusNotStarted), "status")
	cmd.Flags().Float64Var(&direct, "direct-hours", 0, "direct hours per week (Governance items)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				f.Statuses = []domain.WorkItemStatus{domain.WorkItemStatus(status)}
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&f.IncludeDeleted, "include-deleted", false, "include deleted items")
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var name, kind, role, workType, phase, size, status, owner string
	var direct float64
	var clearDirect bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkItemUpdateOptions{ID: args[0], ClearDirectHours: clearDirect, ActorID: viper.GetString("actor-id")}
			for flag, dst := range map[string]**string{
				"name": &opts.Name, "kind": &opts.Kind, "role": &opts.Role, "work-type": &opts.WorkType,
				"phase": &opts.Phase, "size": &opts.EffortSize, "owner": &opts.Owner,
			} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*dst = &v
				}
			}
			if cmd.Flags().Changed("status") {
				s := domain.WorkItemStatus(status)
				opts.Status = &s
			}
			if cmd.Flags().Changed("direct-hours") {
				opts.DirectHoursPerWeek = &direct
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, warnings, err := e.UpdateWorkItem(ctx, opts)
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&kind, "kind", "", "initiative or adhoc")
	cmd.Flags().StringVar(&role, "role", "", "owner's role")
	cmd.Flags().StringVar(&workType, "work-type", "", "work type")
	cmd.Flags().StringVar(&phase, "phase", "", "phase")
	cmd.Flags().StringVar(&size, "size", "", "effort size")
	cmd.Flags().StringVar(&status, "status", "", "status")
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (empty unassigns)")
	cmd.Flags().Float64Var(&direct, "direct-hours", 0, "direct hours per week")
	cmd.Flags().BoolVar(&clearDirect, "clear-direct-hours", false, "remove direct hours")
	return cmd
}

func itemReassignCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Move a work item to another owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, warnings, err := e.ReassignWorkItem(ctx, args[0], owner, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "to", "", "new owner id (empty unassigns)")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Mark a work item deleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, warnings, err := e.DeleteWorkItem(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(w)
			})
		},
	}
}

func itemUnassignedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unassigned",
		Short: "List active work items without an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.UnassignedItems(ctx)
				if err != nil {
					return err
				}
				return printItems(items)
			})
		},
	}
}

func effortCmd() *cobra.Command {
	ef := &cobra.Command{Use: "effort", Short: "Weekly effort entries"}
	ef.AddCommand(effortLogCmd(), effortListCmd(), effortCopyCmd())
	return ef
}

func effortLogCmd() *cobra.Command {
	var in engine.EffortLogInput
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record hours spent on a work item for a week",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if in.Week == "" {
					in.Week = capacity.WeekKey(e.CurrentWeek())
				}
				l, warnings, err := e.SaveEffortLog(ctx, in)
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&in.TeamMemberID, "member", "", "member id")
	cmd.Flags().StringVar(&in.WorkItemID, "item", "", "work item id")
	cmd.Flags().StringVar(&in.Week, "week", "", "any date in the week (default: this week)")
	cmd.Flags().Float64Var(&in.HoursSpent, "hours", 0, "hours spent")
	cmd.Flags().StringVar(&in.EffortSize, "size", "", "effort size observed")
	cmd.Flags().StringVar(&in.Note, "note", "", "note")
	_ = cmd.MarkFlagRequired("member")
	_ = cmd.MarkFlagRequired("item")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func effortListCmd() *cobra.Command {
	var member, week string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a member's effort entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if week != "" {
				normalized, err := capacity.NormalizeWeekKey(week)
				if err != nil {
					return err
				}
				week = normalized
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				logs, err := r.ListEffortLogs(ctx, nil, member, week)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				tw := newTable(table.Row{"Week", "Item", "Hours", "Size", "Note"})
				var total float64
				for _, l := range logs {
					tw.AppendRow(table.Row{l.WeekStart, l.WorkItemID, l.HoursSpent, l.EffortSize, l.Note})
					total += l.HoursSpent
				}
				tw.AppendFooter(table.Row{"", "Total", total, "", ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().StringVar(&week, "week", "", "any date in the week (default: all weeks)")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func effortCopyCmd() *cobra.Command {
	var member, week string
	cmd := &cobra.Command{
		Use:   "copy-last-week",
		Short: "Copy last week's entries into a week where missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if week == "" {
					week = capacity.WeekKey(e.CurrentWeek())
				}
				copied, warnings, err := e.CopyLastWeek(ctx, member, week, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printWarnings(warnings)
				return printJSONOrTable(copied)
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().StringVar(&week, "week", "", "target week (default: this week)")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func weightsCmd() *cobra.Command {
	w := &cobra.Command{Use: "weights", Short: "Estimation weight table"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List raw weight rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Repo.ListWeightConfigs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable(table.Row{"Category", "Key", "Value"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Category, r.Key, r.Value})
				}
				tw.Render()
				return nil
			})
		},
	}
	var category, key, value string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a weight row and recompute active members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				warnings, err := e.SetWeight(ctx, domain.WeightConfig{Category: domain.WeightCategory(category), Key: key, Value: value}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				printWarnings(warnings)
				fmt.Printf("%s %s = %s\n", category, key, value)
				return nil
			})
		},
	}
	set.Flags().StringVar(&category, "category", "", "effort_size|role_weight|work_type_weight|phase_weight")
	set.Flags().StringVar(&key, "key", "", "row key")
	set.Flags().StringVar(&value, "value", "", "numeric value")
	_ = set.MarkFlagRequired("category")
	_ = set.MarkFlagRequired("key")
	_ = set.MarkFlagRequired("value")
	w.AddCommand(list, set)
	return w
}

func capacityCmd() *cobra.Command {
	c := &cobra.Command{Use: "capacity", Short: "Capacity calculation and snapshots"}
	c.AddCommand(capacityShowCmd(), capacityRecalcCmd(), capacityHistoryCmd(), capacityIncompleteCmd())
	return c
}

func capacityShowCmd() *cobra.Command {
	var member, week, mode string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Compute a member's capacity for a week without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wk, err := weekFlag(e, week)
				if err != nil {
					return err
				}
				res, err := e.Compute(ctx, member, wk, capacity.Mode(mode))
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().StringVar(&week, "week", "", "any date in the week (default: this week)")
	cmd.Flags().StringVar(&mode, "mode", string(capacity.ModeAggregate), "aggregate or item_override")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func capacityRecalcCmd() *cobra.Command {
	var member, week string
	var all bool
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recompute and store snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && member == "" {
				return fmt.Errorf("--member or --all required")
			}
			actorID := viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				wk, err := weekFlag(e, week)
				if err != nil {
					return err
				}
				if all {
					warnings, err := e.RecalculateAll(ctx, wk, actorID)
					if err != nil {
						return err
					}
					printWarnings(warnings)
					fmt.Printf("recalculated week %s\n", capacity.WeekKey(wk))
					return nil
				}
				res, err := e.Recalculate(ctx, member, wk, actorID)
				if err != nil {
					return err
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().BoolVar(&all, "all", false, "every active member")
	cmd.Flags().StringVar(&week, "week", "", "any date in the week (default: this week)")
	return cmd
}

func capacityHistoryCmd() *cobra.Command {
	var f repo.SnapshotFilters
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, bound := range []*string{&f.From, &f.To} {
				if *bound == "" {
					continue
				}
				key, err := capacity.NormalizeWeekKey(*bound)
				if err != nil {
					return err
				}
				*bound = key
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				snaps, err := r.ListSnapshots(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snaps)
				}
				tw := newTable(table.Row{"Member", "Week", "Planned", "Actual", "Util %", "Actual %", "Status", "Items"})
				for _, s := range snaps {
					tw.AppendRow(table.Row{s.TeamMemberID, s.WeekStart, s.PlannedHours, s.ActualHours, s.UtilizationPercent, s.ActualUtilizationPercent, s.Status, s.TotalAssignments})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.MemberID, "member", "", "member filter")
	cmd.Flags().StringVar(&f.From, "from", "", "first week")
	cmd.Flags().StringVar(&f.To, "to", "", "last week")
	cmd.Flags().IntVar(&f.Limit, "limit", 52, "max rows")
	return cmd
}

func capacityIncompleteCmd() *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "incomplete",
		Short: "List a member's active items that cannot be estimated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.IncompleteItems(ctx, member)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Status", "Missing"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Item.ID, it.Item.Name, it.Item.Status, strings.Join(it.Missing, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "member id")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func importCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import members, weights, work items and effort entries from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := importer.ParseFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := importer.Import(ctx, e, b, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				tw := newTable(table.Row{"Section", "OK", "Failed"})
				sections := []struct {
					name string
					rep  importer.SectionReport
				}{
					{"members", rep.Members}, {"weights", rep.Weights}, {"work_items", rep.WorkItems}, {"effort_logs", rep.EffortLogs},
				}
				for _, s := range sections {
					tw.AppendRow(table.Row{s.name, s.rep.OK, s.rep.Failed})
				}
				tw.Render()
				for _, s := range sections {
					for _, msg := range s.rep.Errors {
						fmt.Fprintf(os.Stderr, "%s: %s\n", s.name, msg)
					}
				}
				printWarnings(rep.Warnings)
				if rep.Failed() {
					return errors.New("some rows were not imported")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML bundle")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	var actorID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret, key := repo.NewAPIKey(actorID, name)
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as (default: --actor-id)")
	create.Flags().StringVar(&name, "name", "", "label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Actor", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.ActorID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&actorID, "actor", "", "actor filter")
	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	k.AddCommand(create, list, revoke)
	return k
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !cmd.Flags().Changed("addr") && e.Config.Server.Addr != "" {
					addr = e.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && e.Config.Server.BasePath != "" {
					basePath = e.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: allowActorHeader,
					EnableDevLogin:         devLogin,
					Logger:                 slog.Default(),
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("WORKLOAD_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				slog.Info("serving workload API", "addr", addr, "base_path", basePath, "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login, which mints tokens with any permissions (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace, Path: viper.GetString("db")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	e.Logger = slog.Default()
	cfg, err := app.ResolveConfig(ctx, workspace, e)
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace, Path: viper.GetString("db")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func weekFlag(e engine.Engine, raw string) (time.Time, error) {
	if raw == "" {
		return e.CurrentWeek(), nil
	}
	return capacity.ParseWeek(raw)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printItems(items []domain.WorkItem) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Name", "Owner", "Status", "Role", "Type", "Phase", "Size"})
	for _, w := range items {
		tw.AppendRow(table.Row{w.ID, w.Name, w.Owner(), w.Status, w.Role, w.WorkType, w.Phase, w.EffortSize})
	}
	tw.Render()
	return nil
}

func printResult(res capacity.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("%s week %s (%s)\n", res.MemberID, res.WeekStart, res.Mode)
	tw := newTable(table.Row{"Item", "Name", "Hours", "Source", "Missing"})
	for _, it := range res.Items {
		tw.AppendRow(table.Row{it.WorkItemID, it.Name, it.Hours, it.Source, strings.Join(it.Missing, ", ")})
	}
	tw.AppendFooter(table.Row{"", "Planned", res.PlannedHours, fmt.Sprintf("%d%%", res.UtilizationPercent), ""})
	tw.Render()
	fmt.Printf("actual %.2fh (%d%%), variance %+.2fh, status %s, %d items, %d incomplete\n",
		res.ActualHours, res.ActualUtilizationPercent, res.Variance, res.Status, res.TotalAssignments, len(res.Incomplete))
	return nil
}

func printWarnings(warnings []engine.RecalcWarning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Error())
	}
}

func floatOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
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
