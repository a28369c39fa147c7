package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignatzorin/yodo-backend/internal/app"
	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/models"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentsctl",
		Short:         "Обслуживание платёжного контура: миграции и сверка с ЮKassa",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp загружает конфигурацию, собирает приложение и закрывает его после fn.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init("info")

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить SQL миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile [payment-id]",
		Short: "Сверить платёж со шлюзом",
		Long: `Сверяет платёж с ЮKassa и доводит зависшую операцию до конца.

Без аргумента обрабатываются все платежи с незавершённой операцией старше --grace
и неоплаченные платежи, брошенные клиентом.

Примеры:
  paymentsctl reconcile 2d7f1a5c-000f-5000-8000-1b2c3d4e5f60
  paymentsctl reconcile --grace 10m`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if len(args) == 0 {
					n, err := a.Escrow.ReconcileStale(cmd.Context(), grace)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d payments\n", n)
					return nil
				}

				p, err := a.Escrow.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 2*time.Minute, "minimum age of a pending operation")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Выпустить access токен для отладки API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			switch role {
			case models.RoleClient, models.RoleSpecialist, models.RoleAdmin:
			default:
				return fmt.Errorf("unknown --role %q", role)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens := app.NewTokenManager(cfg)
			token, expiresAt, err := tokens.IssueAccess(id, role)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"access_token": token, "expires_at": expiresAt})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", models.RoleAdmin, "client, specialist or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
