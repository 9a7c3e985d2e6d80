package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/crucible/pkg/security"
	"github.com/cuemby/crucible/pkg/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crucible-admin",
	Short: "Administer a Crucible job store and API keys",
}

func init() {
	rootCmd.PersistentFlags().String("db-path", "crucible.db", "Path to the Crucible BoltDB file")

	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(statsCmd)

	keyCmd.AddCommand(keyCreateCmd)
	keyCmd.AddCommand(keyRevokeCmd)
	keyCmd.AddCommand(keyListCmd)

	keyCreateCmd.Flags().String("owner", "", "Owner identity the key will be scoped to (required)")
	keyCreateCmd.Flags().String("description", "", "Free-text description stored alongside the key")
	keyCreateCmd.MarkFlagRequired("owner")
}

func openKeyStore(cmd *cobra.Command) (*security.KeyStore, *bolt.DB, error) {
	dbPath, _ := cmd.Flags().GetString("db-path")
	db, err := store.OpenDB(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	keys, err := security.NewKeyStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to open key store: %w", err)
	}

	return keys, db, nil
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys",
}

var keyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		description, _ := cmd.Flags().GetString("description")

		keys, db, err := openKeyStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		key, err := keys.Create(owner, description)
		if err != nil {
			return fmt.Errorf("failed to create key: %w", err)
		}

		fmt.Printf("API key created for %s:\n\n", owner)
		fmt.Printf("    %s\n\n", key)
		fmt.Println("This key is shown once and cannot be recovered; only its hash is stored.")
		return nil
	},
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke KEY",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, db, err := openKeyStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := keys.Revoke(args[0]); err != nil {
			return fmt.Errorf("failed to revoke key: %w", err)
		}

		fmt.Println("Key revoked.")
		return nil
	},
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys (shown by hash, plaintext is not recoverable)",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, db, err := openKeyStore(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := keys.List()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No API keys found")
			return nil
		}

		fmt.Printf("%-20s %-64s %s\n", "OWNER", "HASH", "CREATED")
		for hash, rec := range records {
			fmt.Printf("%-20s %-64s %s\n", rec.Owner, hash, rec.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job counts by status, across all owners",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db-path")
		db, err := store.OpenDB(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		counts, err := store.CountByStatus(db)
		if err != nil {
			return err
		}

		total := 0
		for _, count := range counts {
			total += count
		}

		fmt.Printf("Total jobs: %d\n", total)
		for status, count := range counts {
			fmt.Printf("  %-15s %d\n", status, count)
		}
		return nil
	},
}
