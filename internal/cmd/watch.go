package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dispatchworks/dispatch/internal/activity"
	"github.com/spf13/cobra"
)

var watchRescan time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Track worktree activity for live instances",
	Long: `Watch follows the worktrees of all live instances and refreshes each
instance's last-activity timestamp when files change. Runs until
interrupted; new and terminated instances are picked up on a periodic
rescan of the store.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchRescan, "rescan", 30*time.Second, "how often to rescan the store for new instances")
}

func runWatch(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	monitor, err := activity.NewMonitor(eng.store, eng.logger)
	if err != nil {
		return fmt.Errorf("failed to create activity monitor: %w", err)
	}
	defer monitor.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watched := make(map[string]bool)
	rescan := func() error {
		instances, err := eng.store.ListInstances(ctx)
		if err != nil {
			return err
		}
		live := make(map[string]bool)
		for _, inst := range instances {
			if inst.Status.Terminal() || inst.WorktreePath == "" {
				continue
			}
			live[inst.ID] = true
			if watched[inst.ID] {
				continue
			}
			if err := monitor.Watch(inst.ID, inst.WorktreePath); err != nil {
				fmt.Printf("Warning: failed to watch %s: %v\n", inst.ID, err)
				continue
			}
			watched[inst.ID] = true
			fmt.Printf("Watching %s (%s)\n", inst.ID, inst.WorktreePath)
		}
		for id := range watched {
			if !live[id] {
				monitor.Unwatch(id)
				delete(watched, id)
				fmt.Printf("Stopped watching %s\n", id)
			}
		}
		return nil
	}

	if err := rescan(); err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	monitor.Start()
	fmt.Printf("Tracking activity for %d instances. Ctrl-C to stop.\n", len(watched))

	ticker := time.NewTicker(watchRescan)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping.")
			return nil
		case <-ticker.C:
			if err := rescan(); err != nil {
				fmt.Printf("Warning: rescan failed: %v\n", err)
			}
		}
	}
}
