// Command cadplug builds, packages and validates CAD/CAM host plugins.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/platinummonkey/cadplug/pkg/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
