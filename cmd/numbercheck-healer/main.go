// Command numbercheck-healer repairs stopped tasks so they can be
// resumed by numbercheck-crawler: it deduplicates each result bin,
// recounts processed from their line totals, and truncates the task's
// working input to its untried tail.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/drsoft-oss/numbercheck/internal/dbconfig"
	"github.com/drsoft-oss/numbercheck/internal/healer"
	"github.com/drsoft-oss/numbercheck/internal/store"
)

var version = "dev"

var (
	flagTaskIDs string
	flagDBConf  string
	flagLaunch  string
	flagSQLite  string
)

var rootCmd = &cobra.Command{
	Use:          "numbercheck-healer",
	Short:        "Repair stopped numbercheck tasks so they can be resumed",
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&flagTaskIDs, "task-ids", "t", "", "Task ids to heal: comma list or a-b range (required)")
	_ = rootCmd.MarkFlagRequired("task-ids")
	f.StringVarP(&flagDBConf, "db-config", "d", "db.conf", "Path to the database configuration file")
	f.StringVarP(&flagLaunch, "launch-type", "l", "development", "Configuration section to use")
	f.StringVar(&flagSQLite, "sqlite-path", "numbercheck.db", "Path to the local SQLite task database")
}

func run(_ *cobra.Command, _ []string) error {
	ids, err := healer.ParseTaskIDs(flagTaskIDs)
	if err != nil {
		return fmt.Errorf("-t: %w", err)
	}

	dbFile, err := os.Open(flagDBConf)
	if err != nil {
		return fmt.Errorf("open db config %s: %w", flagDBConf, err)
	}
	section, err := dbconfig.Get(dbFile, flagLaunch)
	dbFile.Close()
	if err != nil {
		return fmt.Errorf("read db config section %q: %w", flagLaunch, err)
	}
	log.Printf("[init] using db config section %q (dsn=%s)", flagLaunch, section.DBDsn)

	st, err := store.OpenSQLite(flagSQLite)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	tasks, err := st.GetStoppedTasks(ctx, ids)
	if err != nil {
		return fmt.Errorf("load stopped tasks: %w", err)
	}
	if len(tasks) == 0 {
		log.Printf("[healer] no stopped tasks among %v", ids)
		return nil
	}

	healed := 0
	for _, t := range tasks {
		if err := healer.Heal(ctx, st, t, t.IPUsed); err != nil {
			log.Printf("[healer] task %d: %v", t.ID, err)
			continue
		}
		healed++
		log.Printf("[healer] task %d healed", t.ID)
	}
	log.Printf("[healer] healed %d/%d task(s)", healed, len(tasks))
	return nil
}
