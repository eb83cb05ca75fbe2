package main

import (
	"fmt"
	"os"

	"github.com/signflow/signflow/cmd/signflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
