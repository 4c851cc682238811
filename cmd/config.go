package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/takeshy/tagstash/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change one configuration key",
	Long: `Change one configuration key and save it. Admin only.
Lists are comma separated; "null" clears remoteRootFolderId.
Changing a storage key re-initializes the backend; if that fails the
previous backend stays active.

Keys:
  ` + strings.Join(config.Keys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(svc.Config()); err != nil {
		return err
	}
	fmt.Printf("\nActive backend: %s\n", svc.Backend().Kind())
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	svc, logger, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	change, err := svc.SetConfig(currentActor(), args[0], args[1])
	if err != nil {
		return userError(logger, err)
	}
	fmt.Printf("✓ Saved %s\n", args[0])
	if change.BackendWarn != nil {
		logger.Error("backend re-initialization failed", "error", change.BackendWarn)
		fmt.Fprintf(os.Stderr, "Warning: the storage backend could not be re-initialized; %s stays active\n", change.Backend)
		return nil
	}
	fmt.Printf("Active backend: %s\n", change.Backend)
	return nil
}
