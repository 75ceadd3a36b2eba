package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"paperline/internal/app"
	"paperline/internal/config"
	"paperline/internal/db"
	"paperline/internal/domain"
	"paperline/internal/engine"
	"paperline/internal/jobs"
	"paperline/internal/repo"
	"paperline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Paperline plugin platform CLI",
	Long: `Paperline manages conference review plugins: sandboxed extensions packaged
as archives, each with its own scoped data store, background jobs and UI slots.

- Workspace: the .paperline directory holding the database; installed plugin
  files live under the configured plugins root.
- Plugins: uploaded as .zip or .tar.gz archives carrying a manifest.json;
  installed disabled, enabled explicitly (enabling runs third-party code).
- Data: per-plugin namespaced key/value storage, optionally encrypted at rest.
- Jobs: durable queue processed in passes ('pl jobs process' or the cron API);
  failed jobs retry until max attempts, then dead-letter.
- Slots: named UI extension points plugins contribute components to.
- Event log: diary of platform changes, view with 'pl log tail'.`,
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
	viper.SetEnvPrefix("PAPERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(pluginCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func pluginCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plugin", Short: "Manage plugins"}
	cmd.AddCommand(pluginInstallCmd())
	cmd.AddCommand(pluginRemoveCmd())
	cmd.AddCommand(pluginEnableCmd())
	cmd.AddCommand(pluginDisableCmd())
	cmd.AddCommand(pluginListCmd())
	cmd.AddCommand(pluginShowCmd())
	return cmd
}

func pluginInstallCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install <archive>",
		Short: "Install a plugin from a .zip or .tar.gz archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.InstallPlugin(ctx, data, force, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if res.Conflict {
					return fmt.Errorf("plugin already installed; use --force to overwrite")
				}
				if !res.Success {
					return errors.New(res.Error)
				}
				if !viper.GetBool("json") {
					fmt.Printf("Installed %s %s (disabled; run 'pl plugin enable %s --acknowledge-risk' to activate)\n",
						res.Plugin.Name, res.Plugin.Version, res.Plugin.Name)
				}
				return printJSONOnly(res.Plugin)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing plugin with the same name")
	return cmd
}

func pluginRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a plugin and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemovePlugin(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func pluginEnableCmd() *cobra.Command {
	var ack bool
	cmd := &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.EnablePlugin(ctx, args[0], ack, viper.GetString("actor-id"))
				if err != nil {
					if errors.Is(err, engine.ErrAcknowledgementRequired) {
						return fmt.Errorf("%w; pass --acknowledge-risk", err)
					}
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&ack, "acknowledge-risk", false, "acknowledge the plugin runs with full application access")
	return cmd
}

func pluginDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.DisablePlugin(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func pluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plugins, err := e.Repo.ListPlugins(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plugins)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Version", "Enabled", "Installed"})
				for _, p := range plugins {
					tw.AppendRow(table.Row{p.Name, p.Version, p.Enabled, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func pluginShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func dataCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "data", Short: "Plugin data storage"}
	cmd.AddCommand(dataGetCmd())
	cmd.AddCommand(dataSetCmd())
	cmd.AddCommand(dataListCmd())
	cmd.AddCommand(dataDeleteCmd())
	cmd.AddCommand(dataClearCmd())
	return cmd
}

func dataStoreArgs(cmd *cobra.Command, plugin, namespace *string) {
	cmd.Flags().StringVar(plugin, "plugin", "", "plugin name")
	cmd.Flags().StringVar(namespace, "namespace", "default", "data namespace")
	_ = cmd.MarkFlagRequired("plugin")
}

func dataGetCmd() *cobra.Command {
	var plugin, namespace string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, plugin)
				if err != nil {
					return err
				}
				value, ok, err := e.DataStore(p.ID).Get(ctx, namespace, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("key %q not found", args[0])
				}
				return printJSON(value)
			})
		},
	}
	dataStoreArgs(cmd, &plugin, &namespace)
	return cmd
}

func dataSetCmd() *cobra.Command {
	var plugin, namespace string
	var encrypted bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value (JSON when parseable, string otherwise)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, plugin)
				if err != nil {
					return err
				}
				var value any = args[1]
				var parsed any
				if err := json.Unmarshal([]byte(args[1]), &parsed); err == nil {
					value = parsed
				}
				return e.DataStore(p.ID).Set(ctx, namespace, args[0], value, encrypted)
			})
		},
	}
	dataStoreArgs(cmd, &plugin, &namespace)
	cmd.Flags().BoolVar(&encrypted, "encrypted", false, "encrypt the value at rest")
	return cmd
}

func dataListCmd() *cobra.Command {
	var plugin, namespace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List keys in a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, plugin)
				if err != nil {
					return err
				}
				keys, err := e.DataStore(p.ID).List(ctx, namespace)
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	dataStoreArgs(cmd, &plugin, &namespace)
	return cmd
}

func dataDeleteCmd() *cobra.Command {
	var plugin, namespace string
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, plugin)
				if err != nil {
					return err
				}
				return e.DataStore(p.ID).Delete(ctx, namespace, args[0])
			})
		},
	}
	dataStoreArgs(cmd, &plugin, &namespace)
	return cmd
}

func dataClearCmd() *cobra.Command {
	var plugin, namespace string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, plugin)
				if err != nil {
					return err
				}
				return e.DataStore(p.ID).Clear(ctx, namespace)
			})
		},
	}
	dataStoreArgs(cmd, &plugin, &namespace)
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Background job queue"}
	cmd.AddCommand(jobsEnqueueCmd())
	cmd.AddCommand(jobsListCmd())
	cmd.AddCommand(jobsShowCmd())
	cmd.AddCommand(jobsProcessCmd())
	cmd.AddCommand(jobsStatsCmd())
	cmd.AddCommand(jobsRecoverCmd())
	cmd.AddCommand(jobsCleanupCmd())
	return cmd
}

func jobsEnqueueCmd() *cobra.Command {
	var plugin, jobType, payload string
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a job for an enabled plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload must be valid JSON")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.EnqueueJob(ctx, plugin, jobType, json.RawMessage(payload), maxAttempts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	cmd.Flags().StringVar(&plugin, "plugin", "", "plugin name")
	cmd.Flags().StringVar(&jobType, "type", "", "job type")
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload JSON")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry ceiling (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("plugin")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func jobsListCmd() *cobra.Command {
	var plugin string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs for a plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetPlugin(ctx, plugin)
				if err != nil {
					return err
				}
				listed, err := e.Repo.ListJobsForPlugin(ctx, p.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(listed)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Attempts", "Updated"})
				for _, j := range listed {
					tw.AppendRow(table.Row{j.ID, j.Type, j.Status, fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts), j.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&plugin, "plugin", "", "plugin name")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	_ = cmd.MarkFlagRequired("plugin")
	return cmd
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.Repo.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
}

func jobsProcessCmd() *cobra.Command {
	var batch int
	var catchUp bool
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run a job processing pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if batch <= 0 {
					batch = e.Config.Jobs.BatchSize
				}
				recovered, err := e.Queue.RecoverStaleLocks(ctx)
				if err != nil {
					return err
				}
				if recovered > 0 {
					fmt.Printf("Recovered %d stale lock(s)\n", recovered)
				}
				if catchUp {
					res, err := e.Queue.ProcessAllPending(ctx, jobs.DefaultMaxIterations, batch)
					if err != nil {
						return err
					}
					return printJSONOrTable(res)
				}
				results, err := e.Queue.ProcessJobs(ctx, batch)
				if err != nil {
					return err
				}
				return printJSONOrTable(results)
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "jobs claimed per pass (0 uses the configured default)")
	cmd.Flags().BoolVar(&catchUp, "catchup", false, "loop until the queue is drained")
	return cmd
}

func jobsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Queue.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
}

func jobsRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Release stale running locks back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Queue.RecoverStaleLocks(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Recovered %d job(s)\n", n)
				return nil
			})
		},
	}
}

func jobsCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old terminal jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if days <= 0 {
					days = e.Config.Jobs.RetentionDays
				}
				n, err := e.Queue.Cleanup(ctx, days)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d job(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (0 uses the configured default)")
	return cmd
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "slots", Short: "UI slot registry"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List slots with registered components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Slots.Slots())
			})
		},
	})
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API key management"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the key is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			key := "pl_" + hex.EncodeToString(raw)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				fmt.Printf("API key (store it now, it is not retrievable later):\n%s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.Repo.LatestEvents(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events")
	cmd.AddCommand(tail)
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default paperline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, e, err := app.Bootstrap(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			jwtSecret := e.Config.Security.JWTSecret
			if jwtSecret == "" {
				jwtSecret = os.Getenv("PAPERLINE_JWT_SECRET")
			}
			if jwtSecret == "" {
				return fmt.Errorf("jwt secret required: set security.jwt_secret or PAPERLINE_JWT_SECRET")
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: jwtSecret},
			})
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
			fmt.Printf("Serving Paperline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, e, err := app.Bootstrap(viper.GetString("workspace"))
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

func printJSONOnly(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
