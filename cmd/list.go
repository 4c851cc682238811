package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/takeshy/tagstash/internal/repository"
)

var (
	listBucket  string
	listKeyword string
	listLong    bool
	listBuckets bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored files or buckets",
	Long: `List stored files, newest bucket first, or one YYYYMM bucket.
Optionally filter by a case-insensitive keyword.

Use --buckets to list the YYYYMM buckets instead of files.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listBucket, "bucket", "b", "", "YYYYMM bucket to list")
	listCmd.Flags().StringVarP(&listKeyword, "keyword", "w", "", "Only show files whose name contains this keyword")
	listCmd.Flags().BoolVarP(&listLong, "long", "l", false, "Show detailed information")
	listCmd.Flags().BoolVar(&listBuckets, "buckets", false, "List buckets instead of files")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if listBuckets {
		buckets, err := svc.Buckets(ctx)
		if err != nil {
			return userError(logger, err)
		}
		if len(buckets) == 0 {
			fmt.Println("No buckets found")
			return nil
		}
		for _, b := range buckets {
			fmt.Printf("  %s\n", b)
		}
		return nil
	}

	files, err := svc.ListFiles(ctx, listBucket, listKeyword)
	if err != nil {
		return userError(logger, err)
	}
	if len(files) == 0 {
		fmt.Println("No files found")
		return nil
	}

	fmt.Printf("Files on %s backend (%d total):\n\n", svc.Backend().Kind(), len(files))
	printFiles(files, listLong)
	return nil
}

func printFiles(files []repository.FileSummary, long bool) {
	if !long {
		for _, f := range files {
			fmt.Printf("  %s %s\n", f.Icon, f.Path)
		}
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tDATE\tTAGS\tNAME\tSIZE")
	fmt.Fprintln(w, "----\t----\t----\t----\t----")
	for _, f := range files {
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\n",
			f.Icon,
			f.Path,
			f.Date,
			f.Tags,
			f.Stem+f.Ext,
			formatSize(f.Size),
		)
	}
	w.Flush()
}

func formatSize(size int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case size >= GB:
		return fmt.Sprintf("%.2f GB", float64(size)/GB)
	case size >= MB:
		return fmt.Sprintf("%.2f MB", float64(size)/MB)
	case size >= KB:
		return fmt.Sprintf("%.2f KB", float64(size)/KB)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
