// Command edgestreams runs a demonstration job and inspects configuration
// files and graph snapshots.
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Build information
const (
	Version = "0.1.0"
	appName = "edgestreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
