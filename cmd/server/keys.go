package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/api/handler"
	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysCreateCmd(), newKeysListCmd(), newKeysRevokeCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Long: `Create an API key for one user of one tenant.

The raw key is printed exactly once; only its bcrypt hash is stored.

Examples:
  # Bootstrap an admin key for a tenant
  server keys create --tenant $TENANT --user $USER --name bootstrap --scope read,write,admin`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuidFlag(cmd, "tenant")
			if err != nil {
				return err
			}
			userID, err := uuidFlag(cmd, "user")
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			scopes, _ := cmd.Flags().GetStringSlice("scope")

			return withKeyStore(cmd.Context(), func(ks store.KeyStore) error {
				raw, key, err := handler.IssueAPIKey(cmd.Context(), ks, tenantID, userID, name, scopes)
				if err != nil {
					return fmt.Errorf("create key: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:     %s\n", key.ID)
				fmt.Fprintf(out, "prefix: %s\n", key.KeyPrefix)
				fmt.Fprintf(out, "scopes: %v\n", key.Scopes)
				fmt.Fprintf(out, "key:    %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant ID (required)")
	cmd.Flags().String("user", "", "User ID the key acts as (required)")
	cmd.Flags().String("name", "", "Key name, unique per tenant (required)")
	cmd.Flags().StringSlice("scope", handler.DefaultScopes, "Scopes to grant (read, write, admin)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys of a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, err := uuidFlag(cmd, "tenant")
			if err != nil {
				return err
			}
			return withKeyStore(cmd.Context(), func(ks store.KeyStore) error {
				keys, err := ks.ListAPIKeys(cmd.Context(), tenantID)
				if err != nil {
					return err
				}
				return printKeys(cmd.OutOrStdout(), keys)
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newKeysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuidFlag(cmd, "tenant")
			if err != nil {
				return err
			}
			keyID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q: %w", args[0], err)
			}
			return withKeyStore(cmd.Context(), func(ks store.KeyStore) error {
				if err := ks.RevokeAPIKey(cmd.Context(), keyID, tenantID); err != nil {
					return fmt.Errorf("revoke key: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", keyID)
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "Tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func uuidFlag(cmd *cobra.Command, name string) (uuid.UUID, error) {
	v, _ := cmd.Flags().GetString(name)
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --%s %q: must be a UUID", name, v)
	}
	return id, nil
}

// withKeyStore opens a short-lived database pool for key management.
func withKeyStore(ctx context.Context, fn func(store.KeyStore) error) error {
	db, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := store.Connect(ctx, db)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(store.NewPostgresStore(pool))
}

func printKeys(w io.Writer, keys []*models.APIKey) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tUSER\tPREFIX\tSCOPES\tLAST USED")
	for _, k := range keys {
		lastUsed := "never"
		if k.LastUsedAt != nil {
			lastUsed = k.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			k.ID, k.Name, k.UserID, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
	}
	return tw.Flush()
}
