// Command millbench drives a taskmill scheduler through synthetic workloads
// and prints a YAML report of throughput and scheduler statistics.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
