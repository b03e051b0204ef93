// Command fieldsync runs the offline sync daemon and queue inspection
// tooling for the FieldSync client.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
