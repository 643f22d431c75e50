// Package main provides the container healthcheck for docflow. It probes the
// readiness endpoint and exits 0 when the service reports ready.
//
//	healthcheck [--url http://localhost:8080/readyz] [--timeout 5s]
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	defaultURL := os.Getenv("DOCFLOW_HEALTHCHECK_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080/readyz"
	}
	url := pflag.String("url", defaultURL, "Readiness URL to probe")
	timeout := pflag.Duration("timeout", 5*time.Second, "Request timeout")
	pflag.Parse()
	if pflag.NArg() > 0 {
		*url = pflag.Arg(0)
	}

	if err := probe(&http.Client{Timeout: *timeout}, *url); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

// probe succeeds on a 2xx answer. The status field of a JSON body is
// included in the error to tell a down database from a down process.
func probe(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Status string `json:"status"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Status != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Status)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}
