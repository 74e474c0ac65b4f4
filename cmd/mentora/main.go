package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "mentora"}

	root.AddCommand(serveCMD(), migrateCMD(), consolidateCMD(), recommendCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
