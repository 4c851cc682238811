package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	searchLong  bool
	getOutput   string
	completeBuckets bool
)

var searchCmd = &cobra.Command{
	Use:   "search [keyword]",
	Short: "Search stored files by name or tag",
	Long: `Search every bucket for files whose name contains the keyword.
Tags are part of the name, so searching for a tag finds tagged files.
The keyword must be at least 2 characters.

Example:
  tagstash search beach
  tagstash search -l Vacation`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var infoCmd = &cobra.Command{
	Use:   "info [bucket/name]",
	Short: "Show the date, tags and original name of a stored file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var getCmd = &cobra.Command{
	Use:   "get [bucket/name]",
	Short: "Download a stored file",
	Long: `Download a stored file into the current directory, or to the path
given with --output. Files above maxDownloadBytes are refused.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var completeCmd = &cobra.Command{
	Use:   "complete [bucket] [partial name]",
	Short: "Suggest file references for partial input",
	Long: `Print up to 25 suggestions for partial input, the way interactive
clients autocomplete. Nothing is suggested until part of a file name is
given. With --buckets, suggest YYYYMM buckets instead.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runComplete,
}

func init() {
	searchCmd.Flags().BoolVarP(&searchLong, "long", "l", false, "Show detailed information")
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "Output file path (default: the stored name)")
	completeCmd.Flags().BoolVar(&completeBuckets, "buckets", false, "Suggest buckets instead of files")
	rootCmd.AddCommand(searchCmd, infoCmd, getCmd, completeCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	files, err := svc.Search(ctx, args[0])
	if err != nil {
		return userError(logger, err)
	}
	if len(files) == 0 {
		fmt.Printf("No files matching '%s'\n", args[0])
		return nil
	}

	fmt.Printf("Files matching '%s' (%d total):\n\n", args[0], len(files))
	printFiles(files, searchLong)
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	f, err := svc.Info(ctx, args[0])
	if err != nil {
		return userError(logger, err)
	}

	fmt.Printf("%s %s\n", f.Icon, f.Path)
	fmt.Printf("  Date: %s\n", f.Date)
	fmt.Printf("  Tags: %s\n", f.Tags)
	fmt.Printf("  Name: %s%s\n", f.Stem, f.Ext)
	fmt.Printf("  Size: %s\n", formatSize(f.Size))
	if !f.Modified.IsZero() {
		fmt.Printf("  Modified: %s\n", f.Modified.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	rc, f, err := svc.Get(ctx, args[0])
	if err != nil {
		return userError(logger, err)
	}
	defer rc.Close()

	out := getOutput
	if out == "" {
		out = filepath.Base(f.Name)
	}
	dst, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	n, err := io.Copy(dst, rc)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return fmt.Errorf("failed to download %s: %w", f.Path, err)
	}

	fmt.Printf("✓ %s → %s (%s)\n", f.Path, out, formatSize(n))
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	var bucket, partial string
	if len(args) > 0 {
		bucket = args[0]
	}
	if len(args) > 1 {
		partial = args[1]
	}

	if completeBuckets {
		cands, err := svc.AutocompleteBuckets(ctx, bucket)
		if err != nil {
			return userError(logger, err)
		}
		for _, c := range cands {
			fmt.Println(c.Value)
		}
		return nil
	}

	cands, err := svc.AutocompleteFiles(ctx, bucket, partial)
	if err != nil {
		return userError(logger, err)
	}
	for _, c := range cands {
		fmt.Printf("%s\t%s\n", c.Value, c.Label)
	}
	return nil
}
