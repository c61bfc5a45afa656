package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/util"
	"github.com/spf13/cobra"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include terminated instances")
}

func runList(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	instances, err := eng.store.ListInstances(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	var rows []*instance.Instance
	for _, inst := range instances {
		if !listAll && inst.Status.Terminal() {
			continue
		}
		rows = append(rows, inst)
	}
	if len(rows) == 0 {
		fmt.Println("No instances.")
		return nil
	}

	fmt.Printf("%-28s %-8s %-15s %-24s %s\n", "ID", "KIND", "STATUS", "BRANCH", "AGE")
	fmt.Println(strings.Repeat("─", 84))
	for _, inst := range rows {
		fmt.Printf("%-28s %-8s %-15s %-24s %s\n",
			util.TruncateString(inst.ID, 28),
			inst.Kind,
			inst.Status,
			util.TruncateString(inst.Branch, 24),
			formatAge(time.Since(inst.CreatedAt)),
		)
	}
	return nil
}
