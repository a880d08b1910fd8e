/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// The `rolegate` CLI drives an authorization session from the terminal.
//
// Usage:
//
//	rolegate shell [--config f]        interactive session
//	rolegate policy show [file]        print the role table
//	rolegate policy validate <file>    check a role table
//	rolegate version                   version info
package main

import (
	"fmt"
	"os"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "shell":
		handleShell(os.Args[2:])
	case "policy":
		handlePolicy(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	case "version":
		fmt.Printf("rolegate %s (commit: %s, built: %s)\n", version, gitCommit, buildDate)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rolegate: session-scoped authentication and role-based access

Usage:
  rolegate shell [--config <file>]   Start an interactive session
  rolegate policy show [file]        Print the effective role table
  rolegate policy validate <file>    Validate a role table YAML file
  rolegate config show [file]        Print the effective configuration
  rolegate config init <file>        Write a default configuration file
  rolegate version                   Show version info

Environment:
  ROLEGATE_IDENTITY_BACKEND   memory | sqlite | postgres | mysql | redis
  ROLEGATE_IDENTITY_DSN       database DSN (postgres, mysql, sqlite path) or redis:// URL
  ROLEGATE_POLICY_FILE        role table YAML
  ROLEGATE_METRICS_ADDR       serve /metrics on this address
  ROLEGATE_OTLP_ENDPOINT      export traces to this OTLP gRPC collector`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
