package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moxxy-run/moxxy/internal/store/migrations"
)

// migrateCmd reports schema status directly (spec's stores apply their own
// pending migrations on open, per internal/store/migrations - there is no
// separate apply step to drive from here, unlike the teacher's Postgres
// migrate up/down/goto/force/drop surface, which targets a schema that
// nothing else applies automatically).
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration status",
	}
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	var agent string
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version for an agent's store and the swarm store",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := resolveDataDir()

			agentDSN := filepath.Join(dir, "agents", agent, "memory.db")
			v, dirty, err := migrations.Version(agentDSN)
			if err != nil {
				return fmt.Errorf("migrate status: agent %q: %w", agent, err)
			}
			fmt.Printf("agent %q: version=%d dirty=%v\n", agent, v, dirty)

			swarmDSN := filepath.Join(dir, "swarm.db")
			sv, sdirty, err := migrations.Version(swarmDSN)
			if err != nil {
				return fmt.Errorf("migrate status: swarm: %w", err)
			}
			fmt.Printf("swarm: version=%d dirty=%v\n", sv, sdirty)
			return nil
		},
	}
	c.Flags().StringVar(&agent, "agent", "default", "agent name")
	return c
}
