package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"distdetect/internal/dto"
	"distdetect/internal/model"
	"distdetect/internal/repository/sqlite"
)

var runsCmd = &cobra.Command{
	Use:               "runs",
	Short:             "Inspect the coordinator run history",
	PersistentPreRunE: bindFlags(map[string]string{"db": "db_path"}),
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and its detections",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run and its detections",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	runsCmd.PersistentFlags().String("db", "", "run history database")

	f := runsListCmd.Flags()
	f.IntP("limit", "n", 20, "maximum number of runs to list")
	f.String("filter-mode", "", "only runs in this mode")
	f.String("class", "", "only runs with detections of this class (e.g. Person)")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	rootCmd.AddCommand(runsCmd)
}

func openHistory() (*sqlite.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("no run history database configured")
	}
	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("run history not found: %w", err)
	}
	return sqlite.New(cfg.DatabasePath)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	mode, _ := cmd.Flags().GetString("filter-mode")
	class, _ := cmd.Flags().GetString("class")

	runs, err := sqlite.NewRunRepository(db).GetAll(&dto.RunFilter{Mode: mode, Class: class, Limit: limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
		return nil
	}

	detections := sqlite.NewDetectionRepository(db)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTARTED\tDURATION\tSESSIONS\tFAILED\tDETECTIONS")
	for _, run := range runs {
		counts, err := detections.CountByRunID(run.ID)
		if err != nil {
			return err
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			run.ID, run.Mode, run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.SessionsTotal, run.SessionsFailed, total)
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := sqlite.NewRunRepository(db).GetByID(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	records, err := sqlite.NewDetectionRepository(db).GetByRunID(run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(out, "Image:    %s\n", run.ImagePath)
	fmt.Fprintf(out, "Output:   %s\n", run.OutputPath)
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Sessions: %d (%d failed)\n\n", run.SessionsTotal, run.SessionsFailed)

	byClass := make(map[model.ClassID][]model.DetectionRecord)
	for _, rec := range records {
		byClass[rec.ClassID] = append(byClass[rec.ClassID], rec)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tCONFIDENCE\tBOX")
	for _, class := range model.AllClasses() {
		for _, rec := range byClass[class] {
			fmt.Fprintf(w, "%s\t%.2f\t(%.0f, %.0f, %.0f, %.0f)\n",
				rec.ClassName, rec.Confidence, rec.X1, rec.Y1, rec.X2, rec.Y2)
		}
	}
	return w.Flush()
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	runs := sqlite.NewRunRepository(db)
	run, err := runs.GetByID(args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err := runs.Delete(run.ID); err != nil {
		return err
	}
	if run.OutputPath != "" {
		if err := os.Remove(run.OutputPath); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to remove %s: %v\n", run.OutputPath, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", run.ID)
	return nil
}
