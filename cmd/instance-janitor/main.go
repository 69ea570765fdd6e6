package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mindroom-ai/instance-orchestrator/internal/config"
	"github.com/mindroom-ai/instance-orchestrator/internal/naming"
	"github.com/mindroom-ai/instance-orchestrator/internal/remote"
	"github.com/mindroom-ai/instance-orchestrator/internal/store"
	"github.com/mindroom-ai/instance-orchestrator/internal/store/model"
)

var (
	stuckAfter  time.Duration
	skipConfirm bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "instance-janitor",
	Short: "Operator utilities for the MindRoom instance fleet",
}

func init() {
	sweepCmd.Flags().DurationVar(&stuckAfter, "stuck-after", time.Hour, "age after which a transitional instance counts as stuck")
	cleanupCmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "skip the confirmation prompt")

	rootCmd.AddCommand(listCmd, sweepCmd, cleanupCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all instance records",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataStore, err := openStore()
		if err != nil {
			return err
		}
		defer dataStore.Close()

		instances, err := dataStore.Instance().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSUBSCRIPTION\tAPP\tSTATUS\tUPDATED")
		for _, instance := range instances {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				instance.ID, instance.SubscriptionID, instance.AppName,
				instance.Status, instance.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark transitional instances stuck for too long as failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataStore, err := openStore()
		if err != nil {
			return err
		}
		defer dataStore.Close()

		cutoff := time.Now().Add(-stuckAfter)
		swept := 0

		for _, status := range []string{model.StatusProvisioning, model.StatusDeprovisioning} {
			instances, err := dataStore.Instance().ListByStatus(cmd.Context(), status)
			if err != nil {
				return fmt.Errorf("failed to list %s instances: %w", status, err)
			}
			for _, instance := range instances {
				if instance.UpdatedAt.After(cutoff) {
					continue
				}
				message := fmt.Sprintf("stuck in %s since %s", status, instance.UpdatedAt.Format(time.RFC3339))
				err := dataStore.Instance().UpdateStatus(cmd.Context(), instance.ID, model.StatusFailed, &store.StatusPatch{
					ErrorMessage: &message,
				})
				if err != nil {
					log.Printf("Failed to mark instance %s as failed: %v", instance.ID, err)
					continue
				}
				log.Printf("Marked instance %s as failed (%s)", instance.ID, message)
				swept++
			}
		}

		log.Printf("Sweep complete: %d instance(s) marked failed", swept)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy remote applications of failed instances and delete their records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("failed to read configuration: %w", err)
		}

		dataStore, err := openStore()
		if err != nil {
			return err
		}
		defer dataStore.Close()

		instances, err := dataStore.Instance().ListByStatus(cmd.Context(), model.StatusFailed)
		if err != nil {
			return fmt.Errorf("failed to list failed instances: %w", err)
		}
		if len(instances) == 0 {
			log.Printf("No failed instances to clean up")
			return nil
		}

		if !skipConfirm && !confirm(len(instances)) {
			log.Printf("Aborted")
			return nil
		}

		factory := remote.NewFactory(remote.Config{
			Host:           cfg.Remote.Host,
			Port:           cfg.Remote.Port,
			User:           cfg.Remote.User,
			KeyPath:        cfg.Remote.KeyPath,
			Key:            cfg.Remote.Key,
			Password:       cfg.Remote.Password,
			KnownHosts:     cfg.Remote.KnownHosts,
			CommandPrefix:  cfg.Remote.CommandPrefix,
			DialTimeout:    cfg.Remote.DialTimeout,
			CommandTimeout: cfg.Remote.CommandTimeout,
		})
		client, err := factory.Dial(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reach remote host: %w", err)
		}
		defer client.Close()

		for _, instance := range instances {
			cleanupInstance(cmd.Context(), client, dataStore, instance)
		}
		return nil
	},
}

// cleanupInstance tears one failed instance down best-effort; the record is
// only deleted when every existing application could be destroyed.
func cleanupInstance(ctx context.Context, client *remote.Client, dataStore store.Store, instance model.Instance) {
	remaining := 0
	for _, app := range naming.AppsFor(instance.AppName).All() {
		if !client.AppExists(ctx, app) {
			continue
		}
		if err := client.DestroyApp(ctx, app); err != nil {
			log.Printf("Failed to destroy %s: %v", app, err)
			remaining++
			continue
		}
		log.Printf("Destroyed %s", app)
	}

	if remaining > 0 {
		log.Printf("Keeping record for instance %s: %d application(s) left on the host", instance.ID, remaining)
		return
	}

	if err := dataStore.Instance().Delete(ctx, instance.ID); err != nil {
		log.Printf("Failed to delete record for instance %s: %v", instance.ID, err)
		return
	}
	log.Printf("Cleaned up instance %s (%s)", instance.ID, instance.AppName)
}

func confirm(count int) bool {
	fmt.Printf("About to destroy the remote applications of %d failed instance(s). Continue? [y/N] ", count)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func openStore() (store.Store, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var db *gorm.DB
	switch cfg.Database.Driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN), gormCfg)
	default:
		db, err = gorm.Open(sqlite.Open(cfg.Database.DSN), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return store.NewStore(db), nil
}
