package cmd

import (
	"github.com/spf13/cobra"

	"distdetect/internal/app"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run one worker session against a coordinator",
	Long: `Connect to the coordinator, receive the image and detect the assigned classes.

In static mode the worker announces --class itself. In dynamic mode it answers
the coordinator's availability probe (interactively with --availability prompt)
and detects whatever classes it is given.`,
	PreRunE: bindFlags(map[string]string{
		"coordinator":  "coordinator",
		"class":        "worker.class",
		"availability": "worker.availability",
		"model":        "model.path",
		"model-config": "model.config",
		"confidence":   "model.confidence",
	}),
	RunE: runWork,
}

func init() {
	f := workCmd.Flags()
	f.String("coordinator", "", "coordinator address")
	f.Int("class", 0, "class to detect in static mode (0 Person, 1 Bicycle, 2 Car, 3 Motorcycle)")
	f.String("availability", "", "availability answer in dynamic mode: prompt, yes or no")
	f.String("model", "", "detection model weights")
	f.String("model-config", "", "detection model graph config")
	f.Float64("confidence", 0, "minimum detection confidence")

	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	return app.RunWorker(ctx, cfg, log)
}
