package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"nemora/internal/app"
	"nemora/internal/config"
	"nemora/internal/domain"
	"nemora/internal/mcptools"
	"nemora/internal/progress"
	"nemora/internal/render"
	"nemora/internal/repo"
	"nemora/internal/server"
)

var (
	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nemora",
	Short: "Nemora lifecycle copilot",
	Long: `Nemora turns a product idea into a phased lifecycle plan and keeps it honest.
- Plan: phases, prioritized tasks, risks and KPIs generated by the model.
- Progress: task statuses roll up into phase status and overall completion.
- Report: an executive status summary, next steps and a launch checklist.
- Team: members, task assignments and an activity log per project.
- Slack: post the latest status to an incoming webhook.
Run 'nemora serve' for the HTTP API or 'nemora mcp' for agent tools over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if viper.GetBool("verbose") {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg, err = config.Load(viper.GetString("workspace"))
		if err != nil {
			return err
		}
		return cfg.Override(viper.GetViper())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("NEMORA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	config.BindEnv(viper.GetViper())
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().String("user", "local@nemora.dev", "acting user email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Addr()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				for _, c := range cfg.Check() {
					if !c.Configured {
						logger.Warn("service not configured", zap.String("service", c.Name), zap.String("detail", c.Detail))
					}
				}
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Generator: a.Gateway,
					Notifier:  a.Notifier,
					Auth: server.AuthConfig{
						JWTSecret: cfg.Auth.JWTSecret,
						TokenTTL:  cfg.TokenTTL(),
						DevLogin:  cfg.Auth.DevLogin,
					},
					CORSOrigins: cfg.Server.CORSOrigins,
					Logger:      logger.Named("http"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					logger.Info("serving nemora api",
						zap.String("url", "http://"+addr),
						zap.String("docs", "http://"+addr+"/docs"),
						zap.Bool("dev_login", cfg.Auth.DevLogin))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, host:port)")
	return cmd
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve lifecycle tools over MCP stdio",
		Long:  "Exposes generate_lifecycle_plan, generate_status_report, project_progress and list_projects to an MCP client. Tools act as --user.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				logger.Debug("mcp stdio server starting", zap.String("user", u.Email))
				return mcpserver.ServeStdio(mcptools.New(a.Engine, u.ID))
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Configuration comes from nemora.yml in the workspace, overridden by environment variables such as NEMOTRON_API_KEY and SLACK_WEBHOOK_URL.",
	}
	c.AddCommand(configCheckCmd())
	c.AddCommand(configInitCmd())
	return c
}

func configCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report which services are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			results := cfg.Check()
			ready := config.Ready(results)
			if viper.GetBool("json") {
				if err := printJSON(map[string]any{"ready": ready, "checks": results}); err != nil {
					return err
				}
			} else {
				tw := newTable(table.Row{"Service", "Configured", "Required", "Detail"})
				for _, r := range results {
					tw.AppendRow(table.Row{r.Name, mark(r.Configured), mark(r.Required), r.Detail})
				}
				tw.Render()
			}
			if !ready {
				return errors.New("required configuration is missing")
			}
			if !viper.GetBool("json") {
				fmt.Println("all required services configured")
			}
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default nemora.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			content, err := config.GenerateDefault()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage saved projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				items, err := a.Engine.ListProjects(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Progress", "Current Phase", "Report", "Updated"})
				for _, p := range items {
					sum := progress.Project(p.Tasks)
					tw.AppendRow(table.Row{
						p.ID, p.Name,
						fmt.Sprintf("%d%% (%d/%d)", sum.Percent, sum.DoneTasks, sum.TotalTasks),
						progress.CurrentPhase(p.Phases, p.Tasks),
						mark(p.ReportData != nil),
						p.UpdatedAt,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project's phases and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := a.Engine.GetProject(ctx, u.ID, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				printPlan(p.Name, domain.Plan{Phases: p.Phases, Tasks: p.Tasks, Risks: p.Risks, KPIs: p.KPIs}, p.TaskAssignments)
				return nil
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				id := strings.TrimSpace(args[0])
				if err := a.Engine.DeleteProject(ctx, u.ID, id); err != nil {
					return err
				}
				fmt.Printf("Deleted project %s\n", id)
				return nil
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Lifecycle plans"}
	plan.AddCommand(planGenerateCmd())
	return plan
}

func planGenerateCmd() *cobra.Command {
	var in domain.ProductInput
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a lifecycle plan and save it as a new project",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = strings.TrimSpace(in.Name)
			in.Description = strings.TrimSpace(in.Description)
			if err := in.Validate(); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				a.Engine.NewProject(ctx, u.ID)
				snap, err := a.Engine.GeneratePlan(ctx, u.ID, in)
				if err != nil {
					return err
				}
				a.Engine.Flush(ctx, u.ID)
				snap = a.Engine.Snapshot(u.ID)
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("Project %s\n\n", snap.ProjectID)
				printPlan(in.Name, *snap.Plan, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "product name")
	cmd.Flags().StringVar(&in.Description, "description", "", "product description")
	cmd.Flags().StringVar(&in.TargetUsers, "target-users", "", "target users")
	cmd.Flags().StringVar(&in.Timeline, "timeline", "", "timeline, e.g. 3 months")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Status reports"}
	r.AddCommand(reportGenerateCmd())
	r.AddCommand(reportExportCmd())
	return r
}

func reportGenerateCmd() *cobra.Command {
	var slack bool
	cmd := &cobra.Command{
		Use:   "generate <project-id>",
		Short: "Generate a status report for a saved project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				if _, err := a.Engine.Open(ctx, u.ID, strings.TrimSpace(args[0])); err != nil {
					return err
				}
				snap, err := a.Engine.GenerateReport(ctx, u.ID)
				if err != nil {
					return err
				}
				a.Engine.Flush(ctx, u.ID)
				if slack {
					if err := a.Engine.SendStatus(ctx, u.ID); err != nil {
						return err
					}
					logger.Info("status sent to slack", zap.String("project", snap.ProjectID))
				}
				if viper.GetBool("json") {
					return printJSON(snap.Report)
				}
				fmt.Print(render.Markdown(snap.Input.Name, *snap.Plan, snap.Report))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&slack, "slack", false, "also post the report to Slack")
	return cmd
}

func reportExportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export a project's plan and latest report as Markdown or HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := currentUser(ctx, a.Engine.Repo)
				if err != nil {
					return err
				}
				p, err := a.Engine.GetProject(ctx, u.ID, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				plan := domain.Plan{Phases: p.Phases, Tasks: p.Tasks, Risks: p.Risks, KPIs: p.KPIs}
				doc, err := render.Render(format, p.Name, plan, p.ReportData)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Print(doc)
					return nil
				}
				if err := os.WriteFile(out, []byte(doc), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", render.FormatMarkdown, "md or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (or return the existing one)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.EnsureUser(ctx, email, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for --user",
		Long:  "API keys authenticate the HTTP API through the X-Api-Key header. The secret is shown once at creation; only its hash is stored.",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := currentUser(ctx, r)
				if err != nil {
					return err
				}
				secret, err := repo.NewAPIKeySecret()
				if err != nil {
					return err
				}
				key := domain.APIKey{ID: uuid.NewString(), UserID: u.ID, Name: name, KeyHash: repo.HashAPIKey(secret)}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "user_id": u.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := currentUser(ctx, r)
				if err != nil {
					return err
				}
				keys, err := r.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, strings.TrimSpace(args[0])); err != nil {
					return err
				}
				fmt.Printf("Deleted API key %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine.Repo)
	})
}

// currentUser resolves --user to a stored user, creating it on first use.
func currentUser(ctx context.Context, r repo.Repo) (domain.User, error) {
	email := strings.TrimSpace(viper.GetString("user"))
	if email == "" {
		return domain.User{}, errors.New("--user is required")
	}
	return r.EnsureUser(ctx, email, "")
}

func printPlan(name string, plan domain.Plan, assignments map[string][]string) {
	fmt.Println(name)
	sum := progress.Project(plan.Tasks)
	fmt.Printf("%d%% complete (%d/%d tasks done, %d in progress)\n\n", sum.Percent, sum.DoneTasks, sum.TotalTasks, sum.InProgressTasks)

	pt := newTable(table.Row{"Phase", "Status", "Done"})
	for _, ph := range progress.DerivePhaseStatuses(plan.Phases, plan.Tasks) {
		st := progress.Phase(plan.Tasks, ph.Name)
		pt.AppendRow(table.Row{ph.Name, ph.Status, fmt.Sprintf("%d/%d", st.Completed, st.Total)})
	}
	pt.Render()
	fmt.Println()

	tw := newTable(table.Row{"ID", "Phase", "Task", "Priority", "Status", "Assignees"})
	for _, t := range plan.Tasks {
		tw.AppendRow(table.Row{t.ID, t.Phase, t.Task, t.Priority, t.Status, strings.Join(assignments[t.ID], ", ")})
	}
	tw.Render()
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return "no"
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
