package main

import (
	"fmt"
	"os"

	// Time zone database for hosts without /usr/share/zoneinfo
	_ "time/tzdata"

	"github.com/Rishiwins/attendance-tracker/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
