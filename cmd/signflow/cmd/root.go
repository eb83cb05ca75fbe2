package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signflow/signflow/pkg/blob"
	"github.com/signflow/signflow/pkg/config"
	"github.com/signflow/signflow/pkg/export"
	"github.com/signflow/signflow/pkg/intake"
	"github.com/signflow/signflow/pkg/logging"
	"github.com/signflow/signflow/pkg/metrics"
	"github.com/signflow/signflow/pkg/provider"
	"github.com/signflow/signflow/pkg/queue"
	"github.com/signflow/signflow/pkg/registry"
	"github.com/signflow/signflow/pkg/store"
)

var (
	cfgFile      string
	outputFormat string

	cfg config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "signflow",
	Short: "CLI for the signflow transcription pipeline",
	Long:  `signflow is a command line interface for managing sessions, transcription jobs and model versions in the signflow pipeline.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		return err
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./signflow.yaml or /etc/signflow/signflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// quietLogger keeps service-layer logs out of CLI output
func quietLogger() *logging.Logger {
	log := logging.New(logging.ERROR, false)
	log.SetOutput(io.Discard)
	return log
}

func openStore() (store.Store, error) {
	return store.NewStore(store.Config{
		Type:            cfg.Database.Type,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func openQueue() (queue.Queue, error) {
	return queue.New(queue.Config{
		Type: cfg.Queue.Backend,
		URL:  cfg.Queue.RedisURL,
		Name: cfg.Queue.Name,
	})
}

func newRegistry(st store.Store) *registry.Service {
	var hub provider.HubClient
	if !cfg.Provider.Offline {
		hub = provider.NewHTTPHubClient(cfg.Provider.HubBaseURL, cfg.Provider.HubToken)
	}
	resolver := provider.NewResolver(cfg.Provider.CacheDir, cfg.Provider.Offline, hub, cfg.Provider.HubRPS)
	return registry.NewService(st, resolver, quietLogger())
}

func newIntake(st store.Store, q queue.Queue) *intake.Service {
	return intake.NewService(st, q, cfg.Session.TTL, quietLogger())
}

func newExport(st store.Store) (*export.Service, error) {
	blobs, err := blob.NewFilesystemStore(cfg.Export.Dir)
	if err != nil {
		return nil, err
	}
	return export.NewService(st, blobs, metrics.New()), nil
}

// printJSON renders v when --output json is selected; returns true if
// it handled the output.
func printJSON(v interface{}) bool {
	if outputFormat != "json" {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "Error encoding JSON:", err)
	}
	return true
}
