package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/marcus-qen/rolegate/internal/config"
)

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: rolegate config <show|init> [file]")
		os.Exit(1)
	}

	switch args[0] {
	case "show":
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		if err := showConfig(os.Stdout, path); err != nil {
			fatal(err)
		}
	case "init":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: rolegate config init <file>")
			os.Exit(1)
		}
		if err := initConfig(os.Stdout, args[1]); err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

// showConfig prints the effective configuration (file plus environment)
// and whether it validates.
func showConfig(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", data)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// initConfig writes the default configuration to path. An existing file is
// left alone.
func initConfig(w io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.Default().Save(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(w, "Wrote default configuration to %s\n", path)
	return nil
}
