package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/alert-history/internal/pipelineconfig"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/pool"
	"github.com/vitaliisemenov/alert-history/internal/retrieval/validator"
	"github.com/vitaliisemenov/alert-history/pkg/logger"
)

var (
	validateLive bool
	validateJSON bool
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config [pipelines-file]",
	Short: "Validate a pipelines.yaml file without starting the server",
	Long: `Loads the given pipelines file (or the one named by the
PIPELINES_FILE_PATH environment variable when no argument is
given), checks every pipeline's structure, and optionally probes
Milvus and the rerank endpoint when --live is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidateConfig,
}

func init() {
	validateConfigCmd.Flags().BoolVar(&validateLive, "live", false, "also probe external services (Milvus, rerank) over the network")
	validateConfigCmd.Flags().BoolVar(&validateJSON, "json", false, "print the result as JSON instead of a human summary")
}

func runValidateConfig(_ *cobra.Command, args []string) error {
	path := os.Getenv("PIPELINES_FILE_PATH")
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no pipelines file given: pass a path or set PIPELINES_FILE_PATH")
	}

	log := newLogger(logger.Config{Level: "info", Format: "json", Output: "stdout"})
	store, err := pipelineconfig.New(path, 0, log)
	if err != nil {
		return fmt.Errorf("failed to open pipelines file: %w", err)
	}

	file, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load pipelines file: %w", err)
	}

	var connPool *pool.Pool
	if validateLive {
		connPool = pool.New(0, log)
		defer connPool.CloseAll()
	}
	result := validator.New(connPool).ValidateFile(context.Background(), file, validateLive)

	if validateJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return err
		}
	} else {
		printValidationSummary(result)
	}

	if !result.OK {
		os.Exit(1)
	}
	return nil
}

func printValidationSummary(result validator.Result) {
	if result.OK {
		fmt.Println("pipelines file is valid")
		return
	}
	fmt.Println("pipelines file is invalid:")
	for field, msg := range result.Details {
		fmt.Printf("  %s: %s\n", field, msg)
	}
}
