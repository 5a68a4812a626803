package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailkite/mailkite/internal/config"
	"github.com/mailkite/mailkite/internal/queue"
)

var (
	queueListStatus   string
	queueListCampaign string
	queueListLimit    int
	queueCleanupAge   time.Duration
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue management commands",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delivery jobs in the queue",
	RunE:  runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show delivery job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueShow,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runQueueStats,
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered jobs",
	RunE:  runQueueDLQ,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "Requeue a dead-lettered job",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

var queueCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old terminal jobs",
	RunE:  runQueueCleanup,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status (pending, sending, sent, failed, deferred, skipped)")
	queueListCmd.Flags().StringVar(&queueListCampaign, "campaign", "", "Filter by campaign ID")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of jobs to show")
	queueCleanupCmd.Flags().DurationVar(&queueCleanupAge, "older-than", 7*24*time.Hour, "Remove terminal jobs older than this")

	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueStatsCmd, queueDLQCmd, queueRetryCmd, queueCleanupCmd)
	rootCmd.AddCommand(queueCmd)
}

func openQueueStorage() (*queue.BoltStorage, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	storage, err := queue.NewBoltStorage(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}

	return storage, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	filter := queue.ListFilter{
		CampaignID: queueListCampaign,
		Limit:      queueListLimit,
	}
	if queueListStatus != "" {
		filter.Status = queue.JobStatus(queueListStatus)
	}

	jobs, err := storage.List(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	printJobTable(jobs)
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	job, err := storage.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", args[0])
	}

	fmt.Printf("Job: %s\n\n", job.ID)
	fmt.Printf("Status:      %s\n", job.Status)
	fmt.Printf("Campaign:    %s\n", job.CampaignID)
	fmt.Printf("Contact:     %s\n", job.ContactID)
	fmt.Printf("Sequence:    %d\n", job.SequenceIndex)
	fmt.Printf("Created:     %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", job.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Retry Count: %d\n", job.RetryCount)

	if !job.NextRetryAt.IsZero() {
		fmt.Printf("Next Retry:  %s\n", job.NextRetryAt.Format(time.RFC3339))
	}
	if job.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", job.LastError)
	}

	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Queue Statistics:")
	fmt.Printf("  Pending:  %d\n", stats.Pending)
	fmt.Printf("  Sending:  %d\n", stats.Sending)
	fmt.Printf("  Deferred: %d\n", stats.Deferred)
	fmt.Printf("  Sent:     %d\n", stats.Sent)
	fmt.Printf("  Failed:   %d\n", stats.Failed)
	fmt.Printf("  Skipped:  %d\n", stats.Skipped)
	fmt.Printf("  Total:    %d\n", stats.Total)

	return nil
}

func runQueueDLQ(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	jobs, err := storage.ListDLQ(context.Background(), queueListLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter queue: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("Dead letter queue is empty")
		return nil
	}

	printJobTable(jobs)
	fmt.Printf("\nTotal: %d dead-lettered jobs\n", len(jobs))

	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.RetryFromDLQ(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	fmt.Printf("Job %s requeued\n", args[0])
	return nil
}

func runQueueCleanup(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	n, err := storage.CleanupTerminal(context.Background(), queueCleanupAge)
	if err != nil {
		return fmt.Errorf("failed to clean up: %w", err)
	}

	fmt.Printf("Removed %d terminal jobs\n", n)
	return nil
}

func printJobTable(jobs []*queue.DeliveryJob) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCAMPAIGN\tCONTACT\tCREATED\tRETRIES")
	fmt.Fprintln(w, "--\t------\t--------\t-------\t-------\t-------")

	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(job.ID),
			job.Status,
			truncateID(job.CampaignID),
			truncateID(job.ContactID),
			job.CreatedAt.Format("2006-01-02 15:04"),
			job.RetryCount,
		)
	}

	w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
