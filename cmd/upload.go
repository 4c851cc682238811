package cmd

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/takeshy/tagstash/internal/app"
	"github.com/takeshy/tagstash/internal/fileutil"
	"github.com/takeshy/tagstash/internal/ingest"
	"github.com/takeshy/tagstash/internal/naming"
)

var (
	excludePatterns []string
	dryRun          bool
	uploadLimit     int64
)

var uploadCmd = &cobra.Command{
	Use:   "upload [files or directories...]",
	Short: "Tag and store images and videos",
	Long: `Upload images and videos to the active storage backend.
Directories are walked recursively; files whose extension is not allowed
are skipped. Each file is tagged by Gemini and stored as
YYYYMMDD_tags_name.ext in the bucket for the current month.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringArrayVarP(&excludePatterns, "exclude", "e", nil, "Regex patterns to exclude files (can be specified multiple times)")
	uploadCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be uploaded without actually uploading")
	uploadCmd.Flags().Int64Var(&uploadLimit, "limit", 0, "Reject files larger than this many bytes (0 for no limit)")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	// Discover files
	fmt.Printf("Discovering files in: %s\n", strings.Join(args, ", "))
	if len(excludePatterns) > 0 {
		fmt.Printf("Excluding patterns: %s\n", strings.Join(excludePatterns, ", "))
	}

	files, err := fileutil.DiscoverFiles(args, excludePatterns, svc.Pipeline().Allowed)
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}

	fmt.Printf("Found %d files\n\n", len(files))

	if len(files) == 0 {
		fmt.Println("No files to upload")
		return nil
	}

	if dryRun {
		fmt.Println("Dry run mode - files that would be uploaded:")
		for _, f := range files {
			fmt.Printf("  %s %s (%d bytes)\n", fileutil.Icon(f.Path), f.Path, f.Size)
		}
		return nil
	}

	atts := make([]ingest.Attachment, 0, len(files))
	for _, f := range files {
		att, err := ingest.FileAttachment(f.Path)
		if err != nil {
			return err
		}
		atts = append(atts, att)
	}

	if !svc.TaggingEnabled() {
		fmt.Println("Tagging disabled (no API key): files will be stored as notags")
	}
	fmt.Printf("Uploading to %s backend (parallelism: %d)...\n\n", svc.Backend().Kind(), parallelism)

	// Upload files with progress
	var (
		mu               sync.Mutex
		uploaded, failed int
	)
	results := svc.Upload(ctx, currentActor(), atts, uploadLimit, func(r ingest.Result) {
		mu.Lock()
		defer mu.Unlock()
		if r.Error != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", r.Filename, app.UserMessage(r.Error))
			logger.Debug("upload failed", "file", r.Filename, "state", r.State, "error", r.Error)
			return
		}
		uploaded++
		fmt.Printf("✓ %s → %s [%s]\n", r.Filename, r.File.Path(), naming.DisplayTags(r.TagToken))
	})

	// Print summary
	fmt.Printf("\nUpload complete:\n")
	fmt.Printf("  Uploaded: %d\n", uploaded)
	fmt.Printf("  Failed:   %d\n", failed)

	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("some uploads failed")
		}
	}

	return nil
}
