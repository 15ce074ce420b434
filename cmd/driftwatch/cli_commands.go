// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "driftwatch",
		Short: "A CLI to run and query the construct identity drift monitor",
		Long: `Driftwatch fingerprints the identity surface of long-lived constructs
and records significant drift in an append-only ledger. Run "driftwatch serve"
to start the monitor, then use the query commands against it.`,
	}

	serverURL string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the drift monitor service",
		Long:  `Opens the embedded store, starts the background sweep scheduler, and serves the HTTP API.`,
		Run:   runServe,
	}

	checkCmd = &cobra.Command{
		Use:   "check [construct-id]",
		Short: "Run an on-demand drift check for a construct",
		Args:  cobra.ExactArgs(1),
		Run:   runCheckCommand,
	}

	fingerprintCmd = &cobra.Command{
		Use:   "fingerprint [construct-id]",
		Short: "Show a construct's current canonical fingerprint",
		Args:  cobra.ExactArgs(1),
		Run:   runFingerprintCommand,
	}

	historyLimit int
	historyCmd   = &cobra.Command{
		Use:   "history [construct-id]",
		Short: "Show a construct's drift ledger, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runHistoryCommand,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate drift statistics across all constructs",
		Run:   runStatsCommand,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:8086", "Base URL of a running driftwatch service")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum ledger rows to return")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}

var cliClient = &http.Client{Timeout: 30 * time.Second}

// callService issues one request against the running service and prints
// the JSON response body, indented.
func callService(method, path string, body any) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding request: %v\n", err)
			os.Exit(1)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cliClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contacting driftwatch at %s: %v\n", serverURL, err)
		fmt.Fprintln(os.Stderr, "Is the service running? Start it with: driftwatch serve")
		os.Exit(1)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func runCheckCommand(cmd *cobra.Command, args []string) {
	callService(http.MethodPost, "/v1/constructs/"+args[0]+"/drift-check", nil)
}

func runFingerprintCommand(cmd *cobra.Command, args []string) {
	callService(http.MethodGet, "/v1/constructs/"+args[0]+"/fingerprint", nil)
}

func runHistoryCommand(cmd *cobra.Command, args []string) {
	callService(http.MethodGet,
		fmt.Sprintf("/v1/constructs/%s/drift-history?limit=%d", args[0], historyLimit), nil)
}

func runStatsCommand(cmd *cobra.Command, args []string) {
	callService(http.MethodGet, "/v1/drift/stats", nil)
}
