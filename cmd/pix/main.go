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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pixline/internal/app"
	"pixline/internal/config"
	"pixline/internal/db"
	"pixline/internal/domain"
	"pixline/internal/repo"
	"pixline/internal/server"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "pix",
	Short: "Pixline CLI",
	Long: `Pixline runs the task backend behind the site-builder bot: AI requests,
webpage crawls and design projects, each tracked as a task with an
append-only log, webhook fan-out and serial/parallel sub-task composition.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PIXLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(aiCmd())
	rootCmd.AddCommand(webpageCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write default pixline.yml",
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
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if c == nil {
				c = config.Default()
			}
			return printJSON(c)
		},
	})
	return cfg
}

func aiCmd() *cobra.Command {
	ai := &cobra.Command{Use: "ai", Short: "AI requests"}
	ai.AddCommand(aiCreateCmd())
	ai.AddCommand(aiShowCmd())
	ai.AddCommand(aiListCmd())
	ai.AddCommand(startCmd("AIRequest", "Start AI request processing"))
	ai.AddCommand(logsCmd("AIRequest", "Show AI request log records"))
	ai.AddCommand(aiEnginesCmd())
	ai.AddCommand(aiDeleteCmd())
	return ai
}

func aiEnginesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engines",
		Short: "List engines the conversation service offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				engines, err := a.Conversation.Engines(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(engines)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Engine"})
				for _, name := range engines {
					tw.AppendRow(table.Row{name})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func aiCreateCmd() *cobra.Command {
	var prompt, engineName, templateKey, webhook string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create AI request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req := &domain.AIRequest{
					Entity:      domain.Entity{UID: uuid.NewString()},
					TaskState:   domain.NewTaskState(),
					UserID:      viper.GetString("user-id"),
					Prompt:      prompt,
					Engine:      domain.DefaultEngine(),
					TemplateKey: templateKey,
				}
				if engineName != "" {
					req.Engine = domain.AIEngine(engineName)
					if !req.Engine.Valid() {
						return fmt.Errorf("invalid engine %q", engineName)
					}
				}
				if webhook != "" {
					req.Metadata = map[string]any{"webhook": webhook}
				}
				if err := a.Repo.InsertAIRequest(ctx, req, req.UserID); err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.Flags().StringVar(&engineName, "engine", "", "AI engine name")
	cmd.Flags().StringVar(&templateKey, "template", "", "prompt template key")
	cmd.Flags().StringVar(&webhook, "webhook", "", "webhook URL stored in metadata")
	return cmd
}

func aiShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <uid>",
		Short: "Show AI request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				req, err := a.Repo.GetAIRequest(ctx, args[0], userScope())
				if err != nil {
					return err
				}
				return printJSON(req)
			})
		},
	}
	return cmd
}

func aiListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List AI requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListAIRequests(ctx, repo.AIRequestFilters{
					Scope:  userScope(),
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UID", "Status", "Progress", "Engine", "Prompt"})
				for _, req := range items {
					tw.AppendRow(table.Row{req.UID, req.Status, req.Progress, req.Engine, truncate(req.Prompt, 48)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "task status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func aiDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete AI request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.SoftDeleteAIRequest(ctx, args[0], userScope(), viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func webpageCmd() *cobra.Command {
	wp := &cobra.Command{Use: "webpage", Short: "Webpage crawl tasks"}
	wp.AddCommand(webpageCreateCmd())
	wp.AddCommand(webpageShowCmd())
	wp.AddCommand(webpageListCmd())
	wp.AddCommand(startCmd("Webpage", "Start webpage crawl"))
	wp.AddCommand(webpageDeleteCmd())
	return wp
}

func webpageCreateCmd() *cobra.Command {
	var pageURL, method, webhook string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create webpage crawl task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pageURL == "" {
				return fmt.Errorf("--url required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				page := &domain.Webpage{
					Entity:      domain.Entity{UID: uuid.NewString()},
					TaskState:   domain.NewTaskState(),
					URL:         pageURL,
					CrawlMethod: domain.CrawlMethod(method),
				}
				if webhook != "" {
					page.Metadata = map[string]any{"webhook": webhook}
				}
				if err := a.Repo.InsertWebpage(ctx, page, viper.GetString("user-id")); err != nil {
					return err
				}
				return printJSON(page)
			})
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "page URL")
	cmd.Flags().StringVar(&method, "method", "direct", "crawl method (direct|browser)")
	cmd.Flags().StringVar(&webhook, "webhook", "", "webhook URL stored in metadata")
	return cmd
}

func webpageShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <uid>",
		Short: "Show webpage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				page, err := a.Repo.GetWebpage(ctx, args[0], domain.Scope{})
				if err != nil {
					return err
				}
				return printJSON(page)
			})
		},
	}
	return cmd
}

func webpageListCmd() *cobra.Command {
	var pageURL, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List webpages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListWebpages(ctx, repo.WebpageFilters{
					URL:    pageURL,
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UID", "Status", "Progress", "Method", "URL"})
				for _, page := range items {
					tw.AppendRow(table.Row{page.UID, page.Status, page.Progress, page.CrawlMethod, truncate(page.URL, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "URL filter")
	cmd.Flags().StringVar(&status, "status", "", "task status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func webpageDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete webpage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.SoftDeleteWebpage(ctx, args[0], viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Design projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectAddRefCmd())
	prj.AddCommand(startCmd("Project", "Start project processing"))
	prj.AddCommand(projectRenderCmd())
	prj.AddCommand(logsCmd("Project", "Show project log records"))
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var pageURL, mode, language, webhook string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pageURL == "" {
				return fmt.Errorf("--url required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				project := &domain.Project{
					Entity:    domain.Entity{UID: uuid.NewString()},
					TaskState: domain.NewTaskState(),
					UserID:    viper.GetString("user-id"),
					URL:       pageURL,
					Mode:      mode,
					Language:  language,
					Step:      domain.StepSource,
				}
				if webhook != "" {
					project.Metadata = map[string]any{"webhook": webhook}
				}
				if err := a.Repo.InsertProject(ctx, project, project.UserID); err != nil {
					return err
				}
				return printJSON(project)
			})
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "source site URL")
	cmd.Flags().StringVar(&mode, "mode", "manual", "mode (manual|auto)")
	cmd.Flags().StringVar(&language, "language", "", "output language")
	cmd.Flags().StringVar(&webhook, "webhook", "", "webhook URL stored in metadata")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <uid>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				project, err := a.Repo.GetProject(ctx, args[0], userScope())
				if err != nil {
					return err
				}
				return printJSON(project)
			})
		},
	}
	return cmd
}

func projectListCmd() *cobra.Command {
	var status, step string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListProjects(ctx, repo.ProjectFilters{
					Scope:  userScope(),
					Status: status,
					Step:   step,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UID", "Status", "Progress", "Step", "Mode", "URL"})
				for _, project := range items {
					tw.AppendRow(table.Row{project.UID, project.Status, project.Progress, project.Step, project.Mode, truncate(project.URL, 48)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "task status filter")
	cmd.Flags().StringVar(&step, "step", "", "project step filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func projectAddRefCmd() *cobra.Command {
	var refID, refType string
	cmd := &cobra.Command{
		Use:   "add-ref <uid>",
		Short: "Append a sub-task reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if refID == "" || refType == "" {
				return fmt.Errorf("--task-id and --task-type required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				project, err := a.Repo.GetProject(ctx, args[0], userScope())
				if err != nil {
					return err
				}
				ref := domain.TaskReference{TaskID: refID, TaskType: refType}
				if err := a.Engine.AddReference(ctx, project, ref, nil); err != nil {
					return err
				}
				return printJSON(project)
			})
		},
	}
	cmd.Flags().StringVar(&refID, "task-id", "", "referenced task uid")
	cmd.Flags().StringVar(&refType, "task-type", "", "referenced task type")
	return cmd
}

func projectRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <uid>",
		Short: "Submit project to the render service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				project, err := a.Repo.GetProject(ctx, args[0], userScope())
				if err != nil {
					return err
				}
				outputURL, err := a.RenderProject(ctx, project)
				if err != nil {
					return err
				}
				if outputURL != "" {
					fmt.Println(outputURL)
				}
				return printJSON(project)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.SoftDeleteProject(ctx, args[0], userScope(), viper.GetString("user-id"))
			})
		},
	}
	return cmd
}

// startCmd is shared by every task type: resolve and run the task inline.
func startCmd(taskType, short string) *cobra.Command {
	return &cobra.Command{
		Use:   "start <uid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				scope := userScope()
				if taskType == domain.TypeWebpage {
					scope = domain.Scope{}
				}
				task, err := a.Engine.Resolve(ctx, domain.TaskReference{TaskID: args[0], TaskType: taskType}, scope)
				if err != nil {
					return err
				}
				if err := a.Engine.StartProcessing(ctx, task, scope); err != nil {
					return err
				}
				return printJSON(task)
			})
		},
	}
}

func logsCmd(taskType, short string) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <uid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				scope := userScope()
				if taskType == domain.TypeWebpage {
					scope = domain.Scope{}
				}
				task, err := a.Engine.Resolve(ctx, domain.TaskReference{TaskID: args[0], TaskType: taskType}, scope)
				if err != nil {
					return err
				}
				logs := task.State().Logs
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Reported", "Status", "Message"})
				for _, rec := range logs {
					tw.AppendRow(table.Row{rec.ReportedAt.Format(time.RFC3339), rec.TaskStatus, truncate(rec.Message, 72)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskType, taskID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Repo.LatestEventsFrom(ctx, n, 0, evtType, taskType, taskID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Task", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.TaskType + "/" + evt.TaskID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&taskType, "task-type", "", "task type filter")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task uid filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key (prints the raw key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					UserID:  viper.GetString("user-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := a.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, key := range keys {
					tw.AppendRow(table.Row{key.ID, key.UserID, key.Name, key.CreatedAt})
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
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Cfg.Server.Addr
				}
				if basePath == "" {
					basePath = a.Cfg.Server.BasePath
				}
				if basePath == "" {
					basePath = "/v0"
				}
				authCfg := server.AuthConfig{
					JWTSecret:             a.Cfg.Auth.JWTSecret,
					AllowLegacyUserHeader: a.Cfg.Auth.AllowLegacyHeader,
				}
				if secret := os.Getenv("PIXLINE_JWT_SECRET"); secret != "" {
					authCfg.JWTSecret = secret
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("PIXLINE_JWT_SECRET or auth.jwt_secret is required for bearer auth")
				}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Pixline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("pix", version)
		},
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func userScope() domain.Scope {
	return domain.Scope{UserID: viper.GetString("user-id")}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
