// Command waybill is the local-first shipment tracker CLI.
//
// All reads come from the local SQLite database; writes land locally first
// and replicate to the shared remote store when connectivity allows. The
// pull/push commands reconcile the two tiers on demand, and the daemon
// command keeps them reconciled in the background.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/waybill-app/waybill/internal/connectivity"
	"github.com/waybill-app/waybill/internal/localstore"
	"github.com/waybill-app/waybill/internal/remotestore"
	"github.com/waybill-app/waybill/internal/remotestore/dynamo"
	"github.com/waybill-app/waybill/internal/remotestore/memory"
	"github.com/waybill-app/waybill/internal/session"
	"github.com/waybill-app/waybill/internal/syncengine"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "waybill",
	Short: "Local-first shipment tracking with cloud sync",
	Long: `waybill tracks shipments, boxes and products in a local SQLite
database and synchronizes them with a shared cloud store.

Reads never wait on the network. Writes commit locally first and
replicate on a best-effort basis; anything that misses the remote is
queued and drained by the next push.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.waybill.yaml)")
	rootCmd.PersistentFlags().String("db", "", "local database path (default ~/.waybill/waybill.db)")
	rootCmd.PersistentFlags().String("tenant", "", "tenant (company) identifier")
	rootCmd.PersistentFlags().String("device", "", "device identifier (default: hostname)")
	rootCmd.PersistentFlags().String("remote", "dynamodb", "remote backend: dynamodb or memory")
	rootCmd.PersistentFlags().String("table", "waybill", "DynamoDB table name")
	rootCmd.PersistentFlags().Bool("offline", false, "skip all remote calls")

	for _, key := range []string{"db", "tenant", "device", "remote", "table", "offline"} {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".waybill")
		}
	}

	viper.SetEnvPrefix("WAYBILL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func dbPath() string {
	if path := viper.GetString("db"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "waybill.db"
	}
	return filepath.Join(home, ".waybill", "waybill.db")
}

func currentSession() (session.Session, error) {
	tenant := viper.GetString("tenant")
	if tenant == "" {
		return session.Session{}, fmt.Errorf("no tenant configured (set --tenant, WAYBILL_TENANT, or tenant in the config file)")
	}
	device := viper.GetString("device")
	if device == "" {
		host, err := os.Hostname()
		if err != nil {
			return session.Session{}, fmt.Errorf("no device configured and hostname unavailable: %w", err)
		}
		device = host
	}
	return session.New(tenant, device), nil
}

func openLocal(ctx context.Context) (*localstore.DB, error) {
	db, err := localstore.Open(dbPath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRemote(ctx context.Context) (remotestore.Store, error) {
	switch backend := viper.GetString("remote"); backend {
	case "dynamodb":
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(cfg)
		return dynamo.New(client, dynamo.Config{Table: viper.GetString("table")}), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", backend)
	}
}

func monitor() connectivity.Monitor {
	if viper.GetBool("offline") {
		return connectivity.Static{Reachable: false}
	}
	if addr := viper.GetString("probe_addr"); addr != "" {
		return connectivity.NewProber(addr)
	}
	return connectivity.Static{Reachable: true}
}

// newEngine wires the full stack for one command invocation. The returned
// cleanup closes the local database.
func newEngine(ctx context.Context, config syncengine.Config) (*syncengine.Engine, session.Session, func(), error) {
	sess, err := currentSession()
	if err != nil {
		return nil, session.Session{}, nil, err
	}

	db, err := openLocal(ctx)
	if err != nil {
		return nil, session.Session{}, nil, err
	}

	remote, err := openRemote(ctx)
	if err != nil {
		db.Close()
		return nil, session.Session{}, nil, err
	}

	if config.PullPolicy == "" {
		config.PullPolicy = syncengine.PullPolicy(viper.GetString("pull_policy"))
	}

	engine := syncengine.New(db, remote, monitor(), config)
	return engine, sess, func() { db.Close() }, nil
}

// progressPrinter renders sync progress on a terminal; on pipes it stays
// quiet so scripted callers get clean output.
func progressPrinter() syncengine.ProgressFunc {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return func(stage string, done, total int) {
		if total > 0 {
			fmt.Printf("\r%-28s %d/%d", stage, done, total)
		} else {
			fmt.Printf("\r%-28s %d", stage, done)
		}
		if total > 0 && done == total {
			fmt.Println()
		}
	}
}
