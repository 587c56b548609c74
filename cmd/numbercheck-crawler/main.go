// Command numbercheck-crawler runs phone-number registration-check tasks
// against a rotating proxy pool, persisting progress to a SQLite-backed
// task store.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drsoft-oss/numbercheck/internal/cliutil"
	"github.com/drsoft-oss/numbercheck/internal/dbconfig"
	"github.com/drsoft-oss/numbercheck/internal/executor"
	"github.com/drsoft-oss/numbercheck/internal/proxyrepo"
	"github.com/drsoft-oss/numbercheck/internal/store"
)

var version = "dev"

var (
	flagPort    string
	flagIP      string
	flagThreads int
	flagDBConf  string
	flagEnv     string

	flagProxyConfig string
	flagSQLitePath  string
)

var rootCmd = &cobra.Command{
	Use:          "numbercheck-crawler",
	Short:        "Distributed phone-number registration checker",
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
	f.StringVarP(&flagPort, "port", "p", "8090", "Admin listen port (informational; admin HTTP surface is out of scope here)")
	f.StringVarP(&flagIP, "ip", "a", "0.0.0.0", "Admin listen address")
	f.IntVarP(&flagThreads, "threads", "t", 15, "Number of worker threads (shown in the startup banner; sessions run as goroutines, so it sizes nothing here)")
	f.StringVarP(&flagDBConf, "db-config", "d", "db.conf", "Path to the database configuration file")
	f.StringVarP(&flagEnv, "env", "y", "development", "Configuration section to use: development|production")

	f.StringVar(&flagProxyConfig, "proxy-config", "proxy_config.json", "Path to the proxy configuration file")
	f.StringVar(&flagSQLitePath, "sqlite-path", "numbercheck.db", "Path to the local SQLite task database")
}

func run(_ *cobra.Command, _ []string) error {
	if flagEnv != "development" && flagEnv != "production" {
		return fmt.Errorf("-y must be development or production, got %q", flagEnv)
	}

	dbFile, err := os.Open(flagDBConf)
	if err != nil {
		return fmt.Errorf("open db config %s: %w", flagDBConf, err)
	}
	section, err := dbconfig.Get(dbFile, flagEnv)
	dbFile.Close()
	if err != nil {
		return fmt.Errorf("read db config section %q: %w", flagEnv, err)
	}
	log.Printf("[init] using db config section %q (dsn=%s)", flagEnv, section.DBDsn)

	st, err := store.OpenSQLite(flagSQLitePath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer st.Close()

	proxyCfg, err := executor.LoadProxyConfig(flagProxyConfig)
	if err != nil {
		return fmt.Errorf("load proxy config: %w", err)
	}

	hub := proxyrepo.NewHub()
	defer hub.Close()

	vendor := &proxyrepo.HTTPVendor{
		QuotaURL:   proxyCfg.Host + "/quota",
		ExtractURL: proxyCfg.Host + "/extract",
	}

	fmt.Print(cliutil.Banner(fmt.Sprintf("numbercheck-crawler %s", version), [][2]string{
		{"Listen", flagIP + ":" + flagPort},
		{"Threads", fmt.Sprintf("%d", flagThreads)},
		{"DB config", flagDBConf + " [" + flagEnv + "]"},
		{"Proxy cfg", flagProxyConfig},
		{"SQLite", flagSQLitePath},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[init] received %s — shutting down", sig)
		cancel()
	}()

	resumed, err := resumeStoppedTasks(ctx, st, vendor, hub, flagThreads)
	if err != nil {
		log.Printf("[init] resume scan failed: %v", err)
	}
	log.Printf("[init] resumed %d previously stopped task(s)", resumed)

	<-ctx.Done()
	return nil
}

// resumeStoppedTasks looks up every task the store reports as Stopped and
// restarts its executor against the trimmed working input the healer
// left behind.
func resumeStoppedTasks(ctx context.Context, st *store.SQLiteStore, vendor proxyrepo.Vendor, hub *proxyrepo.Hub, threads int) (int, error) {
	ids, err := st.ListTaskIDsByStatus(ctx, store.Stopped)
	if err != nil {
		return 0, err
	}
	tasks, err := st.GetStoppedTasks(ctx, ids)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tasks {
		proxyCfg, err := executor.LoadProxyConfig(flagProxyConfig)
		if err != nil {
			log.Printf("[init] task %d: load proxy config: %v", t.ID, err)
			continue
		}
		exec, err := executor.New(executor.Config{
			Task:        t,
			Store:       st,
			ProxyConfig: proxyCfg,
			Vendor:      vendor,
			Hub:         hub,
			Resume:      true,
			WorkingPath: t.InputFilename,
		})
		if err != nil {
			log.Printf("[init] task %d: resume failed: %v", t.ID, err)
			continue
		}
		go exec.Run(ctx)
		count++
	}
	return count, nil
}
