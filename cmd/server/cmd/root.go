// Package cmd holds the retrieval orchestrator's CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "retrieval-orchestrator",
	Short: "Retrieval pipeline orchestrator service",
	Long: `retrieval-orchestrator runs the HTTP API that fans a query out
across every embedding model configured for a pipeline, searches a
shared Milvus connection pool, reranks, and filters the results
through an LLM before returning the final chunks.

Pipeline definitions live in a hot-reloadable YAML file; edit it with
the pipeline management API and the running server picks up the
change without a restart.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to the application config file (YAML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateConfigCmd)
}
