package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/moxxy-run/moxxy/internal/store"
)

// tokenCmd manages API tokens directly against an agent's store, bypassing
// the auth gate entirely - the operator-facing escape hatch for the case
// spec §4.10 calls out: a non-loopback bind with zero tokens configured
// locks every route out until one is minted.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage an agent's API tokens",
	}
	cmd.AddCommand(tokenCreateCmd())
	cmd.AddCommand(tokenListCmd())
	cmd.AddCommand(tokenDeleteCmd())
	return cmd
}

func openAgentStore(agent string) (*store.Store, error) {
	dir := resolveDataDir()
	return store.Open(filepath.Join(dir, "agents", agent, "memory.db"))
}

func tokenCreateCmd() *cobra.Command {
	var agent, name string
	c := &cobra.Command{
		Use:   "create",
		Short: "Mint a new API token for an agent, printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAgentStore(agent)
			if err != nil {
				return err
			}
			defer st.Close()

			raw, tok, err := st.CreateToken(context.Background(), name)
			if err != nil {
				return fmt.Errorf("token create: %w", err)
			}
			fmt.Printf("id=%s name=%q token=%s\n", tok.ID, tok.Name, raw)
			fmt.Println("this token will not be shown again")
			return nil
		},
	}
	c.Flags().StringVar(&agent, "agent", "default", "agent name")
	c.Flags().StringVar(&name, "name", "", "human-readable label for the token")
	return c
}

func tokenListCmd() *cobra.Command {
	var agent string
	c := &cobra.Command{
		Use:   "list",
		Short: "List an agent's API tokens (hashes only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAgentStore(agent)
			if err != nil {
				return err
			}
			defer st.Close()

			tokens, err := st.ListTokens(context.Background())
			if err != nil {
				return fmt.Errorf("token list: %w", err)
			}
			if len(tokens) == 0 {
				fmt.Println("no tokens configured")
				return nil
			}
			for _, t := range tokens {
				fmt.Printf("id=%s name=%q created=%s\n", t.ID, t.Name, t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	}
	c.Flags().StringVar(&agent, "agent", "default", "agent name")
	return c
}

func tokenDeleteCmd() *cobra.Command {
	var agent string
	c := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API token by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openAgentStore(agent)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteToken(context.Background(), args[0]); err != nil {
				return fmt.Errorf("token delete: %w", err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
	c.Flags().StringVar(&agent, "agent", "default", "agent name")
	return c
}
