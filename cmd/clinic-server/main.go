package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/clinicmanager/clinic/internal/config"
	"github.com/clinicmanager/clinic/internal/domain/clinic"
	"github.com/clinicmanager/clinic/internal/domain/queue"
	"github.com/clinicmanager/clinic/internal/platform/auth"
	"github.com/clinicmanager/clinic/internal/platform/db"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic management API server",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(clinicCmd())
	root.AddCommand(stockCmd())
	root.AddCommand(queueCmd())
	root.AddCommand(vapidCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads the configuration, opens a pool and hands both to fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

// withApp is withPool plus the wired services.
func withApp(fn func(ctx context.Context, a *app) error) error {
	return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
		return fn(ctx, newApp(cfg, pool, newLogger(cfg.Env)))
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, db.Migrations).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, db.Migrations).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a clinic and provision its payment subaccount",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			c := &clinic.Clinic{Name: name}
			if v, _ := cmd.Flags().GetString("email"); v != "" {
				c.Email = &v
			}
			if v, _ := cmd.Flags().GetString("settlement-bank"); v != "" {
				c.SettlementBank = &v
			}
			if v, _ := cmd.Flags().GetString("account-number"); v != "" {
				c.AccountNumber = &v
			}

			return withApp(func(ctx context.Context, a *app) error {
				if err := a.clinics.Create(ctx, c); err != nil {
					return err
				}
				created, err := a.clinics.Get(ctx, c.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created clinic %s (%s)\n", created.Name, created.ID)
				if created.PaystackSubaccountCode != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Paystack subaccount: %s\n", *created.PaystackSubaccountCode)
				}
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Clinic name")
	createCmd.Flags().String("email", "", "Contact email")
	createCmd.Flags().String("settlement-bank", "", "Bank code for settlements")
	createCmd.Flags().String("account-number", "", "Settlement account number")
	cmd.AddCommand(createCmd)

	return cmd
}

func clinicFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("clinic")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--clinic must be a clinic id: %w", err)
	}
	return id, nil
}

func stockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inventory utilities",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write stock levels of a clinic as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicID, err := clinicFlag(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return withApp(func(ctx context.Context, a *app) error {
				return a.inventory.ExportCSV(ctx, clinicID, w)
			})
		},
	}
	exportCmd.Flags().String("clinic", "", "Clinic id")
	exportCmd.Flags().String("out", "-", "Output file, - for stdout")
	cmd.AddCommand(exportCmd)

	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue utilities",
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Check that a queue's positions run 1..N",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicID, err := clinicFlag(cmd)
			if err != nil {
				return err
			}
			targetType, _ := cmd.Flags().GetString("type")
			rawTarget, _ := cmd.Flags().GetString("target")
			targetID, err := uuid.Parse(rawTarget)
			if err != nil {
				return fmt.Errorf("--target must be a doctor or lab id: %w", err)
			}

			return withApp(func(ctx context.Context, a *app) error {
				report, err := a.queues.Audit(ctx, clinicID, queue.Target{Type: targetType, ID: targetID})
				if err != nil {
					return err
				}
				return printAudit(cmd.OutOrStdout(), report)
			})
		},
	}
	auditCmd.Flags().String("clinic", "", "Clinic id")
	auditCmd.Flags().String("type", queue.TargetDoctor, "Queue type: doctor or lab")
	auditCmd.Flags().String("target", "", "Doctor or lab id")
	cmd.AddCommand(auditCmd)

	return cmd
}

func printAudit(w io.Writer, r queue.PositionReport) error {
	fmt.Fprintf(w, "entries: %d\nmax position: %d\n", r.Count, r.MaxPosition)
	if r.Healthy() {
		fmt.Fprintln(w, "positions OK")
		return nil
	}
	fmt.Fprintf(w, "duplicates: %v\ngaps: %v\n", r.Duplicates, r.Gaps)
	return fmt.Errorf("queue positions are inconsistent")
}

func vapidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "Web push key management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Create the VAPID key pair if missing and print the public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				keys, err := a.pusher.Keys(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), keys.PublicKey)
				return nil
			})
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Access token utilities",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an access token for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			clinicID, err := clinicFlag(cmd)
			if err != nil {
				return err
			}
			rawRoles, _ := cmd.Flags().GetString("roles")
			roles, err := parseRoles(rawRoles)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(jwtConfig(cfg), subject, clinicID.String(), roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().String("subject", "", "User id placed in the sub claim")
	issueCmd.Flags().String("clinic", "", "Clinic id")
	issueCmd.Flags().String("roles", auth.RoleReceptionist, "Comma-separated roles")
	issueCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	cmd.AddCommand(issueCmd)

	return cmd
}

var knownRoles = map[string]bool{
	auth.RolePlatform:     true,
	auth.RoleAdmin:        true,
	auth.RoleDoctor:       true,
	auth.RoleNurse:        true,
	auth.RoleLab:          true,
	auth.RoleReceptionist: true,
	auth.RoleAccountant:   true,
	auth.RolePharmacist:   true,
	auth.RoleSpecialist:   true,
}

func parseRoles(raw string) ([]string, error) {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if !knownRoles[r] {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}
	return roles, nil
}
