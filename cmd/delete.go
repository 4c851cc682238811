package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var forceDelete bool

var deleteCmd = &cobra.Command{
	Use:   "delete [bucket/name]",
	Short: "Delete a stored file",
	Long: `Delete one stored file. Admin only.
The deletion must be confirmed within 30 seconds, otherwise it is
cancelled and the file is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var retagCmd = &cobra.Command{
	Use:   "retag [bucket/name] [tags]",
	Short: "Replace the tags of a stored file",
	Long: `Replace the tags of a stored file by renaming it. Admin only.
Tags are comma separated; use "notags" to clear them.

Example:
  tagstash retag 202406/20240615_notags_IMG_0042.jpg "Beach, Sunset"`,
	Args: cobra.ExactArgs(2),
	RunE: runRetag,
}

func init() {
	deleteCmd.Flags().BoolVarP(&forceDelete, "force", "f", false, "Force deletion without confirmation")
	rootCmd.AddCommand(deleteCmd, retagCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	actor := currentActor()
	req, err := svc.BeginDelete(ctx, actor, args[0])
	if err != nil {
		return userError(logger, err)
	}

	// Confirm deletion
	if !forceDelete {
		fmt.Printf("Delete %s? [y/N] (expires in %s): ", req.DisplayName, svc.Deletions().Timeout())
		answer := make(chan string, 1)
		go func() {
			response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			answer <- strings.TrimSpace(strings.ToLower(response))
		}()

		select {
		case <-svc.Deletions().Done(req.ID):
			fmt.Println("\nConfirmation timed out, nothing was deleted")
			return nil
		case <-ctx.Done():
			svc.CancelDelete(actor, req.ID)
			return ctx.Err()
		case response := <-answer:
			if response != "y" && response != "yes" {
				if _, err := svc.CancelDelete(actor, req.ID); err != nil {
					return userError(logger, err)
				}
				fmt.Println("Deletion cancelled")
				return nil
			}
		}
	}

	if _, err := svc.ConfirmDelete(ctx, actor, req.ID); err != nil {
		return userError(logger, err)
	}
	fmt.Printf("✓ Deleted %s\n", req.DisplayName)
	return nil
}

func runRetag(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	f, err := svc.Retag(ctx, currentActor(), args[0], args[1])
	if err != nil {
		return userError(logger, err)
	}
	fmt.Printf("✓ %s [%s]\n", f.Path, f.Tags)
	return nil
}
