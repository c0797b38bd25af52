package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/qfetch/datarecording"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the tables recorded during a run.",
	Long: "`inspect [run database]` lists the tables in a recorded run " +
		"database together with their row counts.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 1 {
			fatalf("Error: run database argument is required")
		}

		dbPath := args[0]
		if _, err := os.Stat(dbPath); err != nil {
			fatalf("Error: %s", err)
		}

		reader := datarecording.NewReader(dbPath)
		defer reader.Close()

		tables, err := reader.ListTables()
		if err != nil {
			fatalf("Error: %s", err)
		}

		for _, name := range tables {
			count, err := reader.CountRows(name)
			if err != nil {
				fatalf("Error: %s", err)
			}

			fmt.Printf("%-24s %d rows\n", name, count)
		}
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
