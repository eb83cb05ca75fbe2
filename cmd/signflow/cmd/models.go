package cmd

import (
	"context"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/signflow/signflow/pkg/models"
)

var (
	modelRepo      string
	modelRevision  string
	modelFramework string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage model versions",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered model versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		versions, err := newRegistry(st).List()
		if err != nil {
			return err
		}
		if printJSON(versions) {
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("ID", "Name", "Repo", "Revision", "Status", "Active", "Synced")
		for _, m := range versions {
			synced := "-"
			if m.DownloadedAt != nil {
				synced = m.DownloadedAt.Format(time.RFC3339)
			}
			active := ""
			if m.IsActive {
				active = "yes"
			}
			table.Append(m.ID, m.Name, m.Repo, m.Revision, string(m.Status), active, synced)
		}
		table.Render()
		return nil
	},
}

var modelsRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new model version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := newRegistry(st).Register(args[0], modelRepo, modelRevision, modelFramework)
		if err != nil {
			return err
		}
		if printJSON(m) {
			return nil
		}
		printModel(m)
		return nil
	},
}

var modelsActivateCmd = &cobra.Command{
	Use:   "activate <model-version-id>",
	Short: "Promote a model version to the active slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := newRegistry(st).Activate(args[0])
		if err != nil {
			return err
		}
		if printJSON(m) {
			return nil
		}
		printModel(m)
		return nil
	},
}

var modelsRollbackCmd = &cobra.Command{
	Use:   "rollback <model-version-id>",
	Short: "Mark a model version rolled back so it is never routed to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		m, err := newRegistry(st).Rollback(args[0])
		if err != nil {
			return err
		}
		if printJSON(m) {
			return nil
		}
		printModel(m)
		return nil
	},
}

var modelsSyncCmd = &cobra.Command{
	Use:   "sync <model-version-id>",
	Short: "Resolve a model version's artifacts into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Provider.Timeout)
		defer cancel()

		m, err := newRegistry(st).Sync(ctx, args[0])
		if err != nil {
			return err
		}
		if printJSON(m) {
			return nil
		}
		printModel(m)
		return nil
	},
}

func printModel(m *models.ModelVersion) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("ID", m.ID)
	table.Append("Name", m.Name)
	table.Append("Repo", m.Repo)
	table.Append("Revision", m.Revision)
	table.Append("Framework", m.Framework)
	table.Append("Status", string(m.Status))
	if m.IsActive {
		table.Append("Active", "yes")
	} else {
		table.Append("Active", "no")
	}
	if m.ArtifactPath != "" {
		table.Append("Artifact Path", m.ArtifactPath)
	}
	if m.LastSyncError != "" {
		table.Append("Last Sync Error", m.LastSyncError)
	}
	table.Render()
}

func init() {
	modelsRegisterCmd.Flags().StringVar(&modelRepo, "repo", "", "backend repository reference, e.g. openai/whisper-small or local/stub")
	modelsRegisterCmd.Flags().StringVar(&modelRevision, "revision", "main", "repository revision")
	modelsRegisterCmd.Flags().StringVar(&modelFramework, "framework", "ctranslate2", "inference framework")
	modelsRegisterCmd.MarkFlagRequired("repo")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsRegisterCmd)
	modelsCmd.AddCommand(modelsActivateCmd)
	modelsCmd.AddCommand(modelsRollbackCmd)
	modelsCmd.AddCommand(modelsSyncCmd)
	rootCmd.AddCommand(modelsCmd)
}
