package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/marcus-qen/rolegate/internal/rbac"
)

func handlePolicy(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: rolegate policy <show|validate> [file]")
		os.Exit(1)
	}

	switch args[0] {
	case "show":
		asYAML := false
		path := ""
		for _, arg := range args[1:] {
			if arg == "--yaml" {
				asYAML = true
				continue
			}
			path = arg
		}
		p, err := loadPolicy(path)
		if err != nil {
			fatal(err)
		}
		if err := printPolicy(os.Stdout, p, asYAML); err != nil {
			fatal(err)
		}
	case "validate":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: rolegate policy validate <file>")
			os.Exit(1)
		}
		if err := validatePolicy(os.Stdout, args[1]); err != nil {
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown policy subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

// loadPolicy returns the file's policy, or the built-in one for an empty path.
func loadPolicy(path string) (*rbac.Policy, error) {
	if path == "" {
		return rbac.DefaultPolicy(), nil
	}
	return rbac.LoadPolicy(path)
}

func printPolicy(w io.Writer, p *rbac.Policy, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tPERMISSIONS")
	for _, role := range rbac.Roles() {
		ids := p.Grants(role)
		names := make([]string, 0, len(ids))
		for _, id := range ids {
			names = append(names, string(id))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", role, strings.Join(names, ", "))
	}
	return tw.Flush()
}

// validatePolicy reports every problem in the file, one per line.
func validatePolicy(w io.Writer, path string) error {
	if _, err := rbac.LoadPolicy(path); err != nil {
		fmt.Fprintf(w, "❌ %s is invalid:\n", path)
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(w, "  - %s\n", line)
		}
		return err
	}
	fmt.Fprintf(w, "✅ %s is valid\n", path)
	return nil
}
