// Command ticketflow runs the ticket workflow engine's reference HTTP
// service and its supporting CLI (migrate, load-workflow).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"ticketflow/internal/api"
	"ticketflow/internal/auth"
	"ticketflow/internal/catalog"
	"ticketflow/internal/config"
	internaldb "ticketflow/internal/db"
	"ticketflow/internal/directory"
	"ticketflow/internal/fields"
	"ticketflow/internal/flowlog"
	"ticketflow/internal/logging"
	"ticketflow/internal/participant"
	"ticketflow/internal/permission"
	"ticketflow/internal/snalloc"
	"ticketflow/internal/ticket"
	"ticketflow/internal/transition"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticketflow",
		Short: "Configurable ticket workflow engine",
	}
	cmd.AddCommand(serveCmd(), migrateCmd(), loadWorkflowCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	var localMode bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			database, err := internaldb.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer database.Close()
			if err := database.Migrate(); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			conn := database.Conn()

			redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

			dir := directory.New(conn)
			cat := catalog.New(conn)
			fieldStore := fields.New(conn)
			tickets := ticket.New(conn, dir)
			flowLog := flowlog.New(conn, cat)
			resolver := participant.New(dir, fieldStore)
			perm := permission.New(cat, dir)
			sn := snalloc.New(redisClient, conn, cfg.Location())
			if err := sn.StartRollover(); err != nil {
				logging.Error("snalloc: failed to start rollover scheduler: %v", err)
			}
			defer sn.Stop()

			locks := internaldb.NewTicketWriteLocks()
			exec := transition.New(conn, locks, cat, dir, fieldStore, tickets, flowLog, resolver, perm, sn)

			middleware := auth.NewMiddlewareWithLocalMode(dir, localMode, cfg.AdminUsername)
			server := api.New(cfg, middleware, cat, fieldStore, tickets, flowLog, perm, exec)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logging.Info("ticketflow: listening on :%d", cfg.APIPort)
			return server.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&localMode, "local", false, "skip authentication and act as the configured admin user")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			database, err := internaldb.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Migrate()
		},
	}
}

func loadWorkflowCmd() *cobra.Command {
	var workflowsDir string
	cmd := &cobra.Command{
		Use:   "load-workflow",
		Short: "Validate and load every workflow definition file into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if workflowsDir == "" {
				workflowsDir = cfg.WorkflowsDir
			}

			database, err := internaldb.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.Migrate(); err != nil {
				return err
			}

			loader := catalog.NewLoader(workflowsDir)
			result, err := loader.LoadAll()
			if err != nil {
				return err
			}
			for _, loadErr := range result.Errors {
				logging.Error("load %s: %v", loadErr.FilePath, loadErr.Error)
			}

			store := catalog.New(database.Conn())
			for _, wf := range result.Workflows {
				id, err := store.PutDefinition(cmd.Context(), wf.Definition)
				if err != nil {
					return fmt.Errorf("persist %s: %w", wf.FilePath, err)
				}
				logging.Info("loaded workflow %q (id %d) from %s", wf.Definition.ID, id, wf.FilePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowsDir, "dir", "", "directory of workflow definition files (overrides WORKFLOWS_DIR)")
	return cmd
}
