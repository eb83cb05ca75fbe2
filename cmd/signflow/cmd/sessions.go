package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var sessionUserID string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage editing sessions",
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a new editing session",
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

		session, err := newIntake(st, q).OpenSession(sessionUserID)
		if err != nil {
			return err
		}
		if printJSON(session) {
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("ID", session.ID)
		table.Append("Status", string(session.Status))
		table.Append("Expires At", session.ExpiresAt.Format(time.RFC3339))
		table.Render()
		return nil
	},
}

var sessionsBindCmd = &cobra.Command{
	Use:   "bind <session-id> <object-key>",
	Short: "Bind an uploaded media object to a session",
	Args:  cobra.ExactArgs(2),
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

		if err := newIntake(st, q).BindMedia(args[0], args[1]); err != nil {
			return err
		}
		cmd.Printf("Media %s bound to session %s\n", args[1], args[0])
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and its jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		session, err := st.GetSession(args[0])
		if err != nil {
			return err
		}
		jobs, err := st.ListJobsBySession(args[0])
		if err != nil {
			return err
		}

		if printJSON(map[string]interface{}{"session": session, "jobs": jobs}) {
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")
		table.Append("ID", session.ID)
		table.Append("Status", string(session.Status))
		table.Append("Media", session.VideoObjectKey)
		table.Append("Expires At", session.ExpiresAt.Format(time.RFC3339))
		table.Append("Last Activity", session.LastActivityAt.Format(time.RFC3339))
		table.Render()

		if len(jobs) > 0 {
			jobsTable := tablewriter.NewWriter(os.Stdout)
			jobsTable.Header("Job ID", "Status", "Progress", "Model Version")
			for _, job := range jobs {
				jobsTable.Append(job.ID, string(job.Status), fmt.Sprintf("%d%%", job.Progress), job.ModelVersionID)
			}
			jobsTable.Render()
		}
		return nil
	},
}

func init() {
	sessionsCreateCmd.Flags().StringVar(&sessionUserID, "user", "", "user id to attribute the session to")

	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsBindCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}
