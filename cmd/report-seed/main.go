// report-seed writes disaster reports into the configured store so the live
// feed can be exercised end to end. It plays the part of the external writer,
// and watch subscribes to the feed's gRPC stream to see what came out.
//
// Usage:
//
//	report-seed insert --type Flood --severity High --location Assam
//	report-seed demo --count 10 --interval 2s
//	report-seed list --limit 5
//	report-seed watch --min-severity High
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "report-seed",
		Short: "Insert disaster reports into the report store",
		Long: `report-seed inserts reports into the store selected by STORE_DRIVER,
DB_PATH and DATABASE_URL, the same settings the feed server reads.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(insertCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
