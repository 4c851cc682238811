package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show or switch the tagging model",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List Gemini models that support content generation",
	Args:  cobra.NoArgs,
	RunE:  runModelsList,
}

var modelsCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the tagging model",
	Args:  cobra.NoArgs,
	RunE:  runModelsCurrent,
}

var modelsSetCmd = &cobra.Command{
	Use:   "set [model]",
	Short: "Switch the tagging model (admin only)",
	Long: `Switch the tagging model. The model must exist and support
content generation. The choice is saved as taggingModelId.

Example:
  tagstash models set gemini-2.5-flash`,
	Args: cobra.ExactArgs(1),
	RunE: runModelsSet,
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsCurrentCmd, modelsSetCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !svc.TaggingEnabled() {
		return fmt.Errorf("API key not provided. Use --api-key flag or set GEMINI_API_KEY environment variable")
	}

	fmt.Println("Fetching models from Gemini...")
	models, err := svc.ListModels(ctx)
	if err != nil {
		return userError(logger, err)
	}
	if len(models) == 0 {
		fmt.Println("No models found")
		return nil
	}

	current := svc.CurrentModel()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tMODEL\tDISPLAY NAME")
	fmt.Fprintln(w, "\t-----\t------------")
	for _, m := range models {
		mark := ""
		if m.ID() == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, m.ID(), m.DisplayName)
	}
	w.Flush()
	return nil
}

func runModelsCurrent(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println(svc.CurrentModel())
	return nil
}

func runModelsSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	if !svc.TaggingEnabled() {
		return fmt.Errorf("API key not provided. Use --api-key flag or set GEMINI_API_KEY environment variable")
	}

	id, err := svc.SetModel(ctx, currentActor(), args[0])
	if err != nil {
		return userError(logger, err)
	}
	fmt.Printf("✓ Tagging model set to %s\n", id)
	return nil
}
