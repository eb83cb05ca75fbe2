package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/signflow/signflow/pkg/models"
)

var jobModelVersionID string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage transcription jobs",
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <session-id>",
	Short: "Create a transcription job and enqueue it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := newIntake(st, q).SubmitJob(ctx, args[0], jobModelVersionID)
		if err != nil {
			return err
		}
		if printJSON(job) {
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Job ID", job.ID)
		table.Append("Session", job.SessionID)
		table.Append("Status", string(job.Status))
		table.Render()
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job and, once done, its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		q, err := openQueue()
		if err != nil {
			return err
		}
		defer q.Close()

		view, err := newIntake(st, q).JobStatus(args[0])
		if err != nil {
			return err
		}
		if printJSON(view) {
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("Job ID", view.Job.ID)
		table.Append("Session", view.Job.SessionID)
		table.Append("Status", string(view.Job.Status))
		table.Append("Progress", fmt.Sprintf("%d%%", view.Job.Progress))
		table.Append("Model Version", view.Job.ModelVersionID)
		table.Append("Updated At", view.Job.UpdatedAt.Format(time.RFC3339))
		table.Render()

		if len(view.Segments) > 0 {
			segTable := tablewriter.NewWriter(os.Stdout)
			segTable.Header("#", "Start", "End", "Confidence", "Text")
			for _, seg := range view.Segments {
				segTable.Append(
					fmt.Sprintf("%d", seg.OrderIndex),
					fmt.Sprintf("%.3f", seg.StartSec),
					fmt.Sprintf("%.3f", seg.EndSec),
					fmt.Sprintf("%.2f", seg.Confidence),
					seg.Text,
				)
			}
			segTable.Render()
		}
		return nil
	},
}

var jobsExportCmd = &cobra.Command{
	Use:   "export <job-id> <format>",
	Short: "Render a done job's transcript as srt, vtt or txt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := models.ParseExportFormat(args[1])
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		svc, err := newExport(st)
		if err != nil {
			return err
		}
		artifact, err := svc.Export(args[0], format)
		if err != nil {
			return err
		}
		if printJSON(artifact) {
			return nil
		}
		cmd.Printf("Export %s written to %s\n", artifact.ID, artifact.ObjectKey)
		return nil
	},
}

func init() {
	jobsSubmitCmd.Flags().StringVar(&jobModelVersionID, "model-version", "", "pin the job to a registered model version")

	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsExportCmd)
	rootCmd.AddCommand(jobsCmd)
}
