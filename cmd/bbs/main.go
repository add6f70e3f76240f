package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath string
	pruneEvery time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "bbs",
	Short: "Multi-room terminal chat backed by Postgres",
	Long: `bbs is a terminal chat client. Each process is one user session: it resolves
the caller's public-key fingerprint to a user, joins the default room and
renders live room traffic until /quit.`,
	SilenceUsage: true,
	RunE:         runChat,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete messages older than the retention window",
	RunE:  runPrune,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (or set BBS_CONFIG)")
	pruneCmd.Flags().DurationVar(&pruneEvery, "every", 0, "Keep running and prune at this interval")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
