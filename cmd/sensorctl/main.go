// sensorctl queries a sensorlog sample store from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/xtxerr/sensorlog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
