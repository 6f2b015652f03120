package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"whisperd/internal/config"
	"whisperd/internal/services"
	"whisperd/internal/urlguard"
)

type checkURLResult struct {
	URL       string        `json:"url"`
	Allowed   bool          `json:"allowed"`
	Host      string        `json:"host,omitempty"`
	Literal   bool          `json:"literal,omitempty"`
	Addresses []addressInfo `json:"addresses,omitempty"`
	ErrorKind services.Kind `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type addressInfo struct {
	Address string `json:"address"`
	Class   string `json:"class"`
}

func newCheckURLCommand(ctx *commandContext) *cobra.Command {
	var domains []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check-url <url>",
		Short: "Check a URL against the fetch policy without downloading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.effectiveConfig(config.Overrides{AllowedDomains: domains})
			if err != nil {
				return err
			}
			validator := urlguard.New(urlguard.Policy{
				AllowedDomains: cfg.Fetch.AllowedDomains,
				ResolveTimeout: cfg.RequestTimeout(),
			})
			result, checkErr := checkURL(cmd.Context(), validator, args[0])

			if jsonOutput {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
			} else {
				printCheckURL(cmd, result, validator.AllowedDomains())
			}
			if checkErr != nil {
				return fmt.Errorf("url rejected: %w", checkErr)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&domains, "allowed-domain", nil, "Check against this allowlist instead of the configured one (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func checkURL(ctx context.Context, validator *urlguard.Validator, raw string) (checkURLResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := checkURLResult{URL: raw}
	target, err := validator.Validate(ctx, raw)
	if err != nil {
		result.ErrorKind = services.KindOf(err)
		result.Error = err.Error()
		return result, err
	}
	result.Allowed = true
	result.Host = target.Host
	result.Literal = target.Literal
	for _, addr := range target.Addrs {
		result.Addresses = append(result.Addresses, addressInfo{
			Address: addr.String(),
			Class:   urlguard.Classify(addr).String(),
		})
	}
	return result, nil
}

func printCheckURL(cmd *cobra.Command, result checkURLResult, domains []string) {
	out := cmd.OutOrStdout()
	allowlist := "any public host"
	if len(domains) > 0 {
		allowlist = strings.Join(domains, ", ")
	}
	fmt.Fprintf(out, "URL:        %s\n", result.URL)
	fmt.Fprintf(out, "Allowlist:  %s\n", allowlist)
	if !result.Allowed {
		fmt.Fprintf(out, "Result:     rejected (%s)\n", result.ErrorKind)
		fmt.Fprintf(out, "Reason:     %s\n", result.Error)
		return
	}
	fmt.Fprintln(out, "Result:     allowed")
	fmt.Fprintf(out, "Host:       %s\n", result.Host)
	fmt.Fprintf(out, "IP literal: %s\n", yesNo(result.Literal))
	if len(result.Addresses) == 0 {
		return
	}
	rows := make([][]string, 0, len(result.Addresses))
	for _, a := range result.Addresses {
		rows = append(rows, []string{a.Address, a.Class})
	}
	fmt.Fprintln(out, renderTable([]string{"Address", "Class"}, rows, nil))
}
