// Package main provides the docflow binary: the HTTP API server, the job
// scheduler and a few maintenance commands sharing one configuration.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	// glog reports fatal startup errors on stderr.
	_ = flag.Set("logtostderr", "true")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
