// Command featurize derives lag features from archived forecast snapshots.
//
// Usage:
//
//	featurize run --data-dir ./RawData
//	featurize catalog
//	featurize validate features_gw_hdd.csv
package main

import (
	"fmt"
	"os"

	"github.com/couchcryptid/ensemble-features/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
