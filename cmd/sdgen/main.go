// Command sdgen is a small client for sd-cpp-server. It generates images
// through the OpenAI-compatible API and checks server health.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
