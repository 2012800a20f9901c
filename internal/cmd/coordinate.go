package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"distdetect/internal/app"
)

var coordinateCmd = &cobra.Command{
	Use:   "coordinate",
	Short: "Run the coordinator for one detection round",
	Long: `Listen for workers, give each of them classes to detect on the source image,
wait for every session to finish and render the merged detections.

In static mode exactly --workers workers are expected, each announcing its own
class. In dynamic mode workers are asked whether they are available and the
allocation policy decides which classes they get.`,
	PreRunE: bindFlags(map[string]string{
		"listen":               "listen",
		"image":                "image",
		"workers":              "expected_workers",
		"window":               "accept_window",
		"policy":               "policy",
		"max-sessions":         "max_sessions",
		"availability-timeout": "availability_timeout",
		"result-timeout":       "result_timeout",
		"output-dir":           "output_dir",
		"db":                   "db_path",
		"http-port":            "http.port",
		"mqtt-broker":          "mqtt.broker",
	}),
	RunE: runCoordinate,
}

func init() {
	f := coordinateCmd.Flags()
	f.String("listen", "", "address to accept workers on")
	f.StringP("image", "i", "", "source image")
	f.IntP("workers", "w", 0, "number of expected workers")
	f.Duration("window", 0, "how long to accept workers (required in dynamic mode)")
	f.String("policy", "", "dynamic allocation policy: first or even")
	f.Int("max-sessions", 0, "maximum concurrently running sessions")
	f.Duration("availability-timeout", 0, "deadline for a worker's availability answer")
	f.Duration("result-timeout", 0, "deadline for a worker's detection result")
	f.String("output-dir", "", "directory for the rendered image")
	f.String("db", "", "run history database (empty disables history)")
	f.Int("http-port", 0, "status API port (0 disables it)")
	f.String("mqtt-broker", "", "MQTT broker host:port for publishing results")

	rootCmd.AddCommand(coordinateCmd)
}

func runCoordinate(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Close()

	if err := cfg.ValidateCoordinator(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	application.Start(ctx)

	run, result, err := application.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("coordinator run failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d detection(s) from %d session(s), %d failed\n",
		run.ID, result.Total(), run.SessionsTotal, run.SessionsFailed)
	if run.OutputPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Image saved to %s\n", run.OutputPath)
	}

	if application.Serving() {
		log.Info("Serving status API until interrupted")
		<-ctx.Done()
	}
	return nil
}
