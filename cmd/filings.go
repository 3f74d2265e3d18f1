package cmd

import (
	"fmt"
	"strings"

	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/render"
	"github.com/spf13/cobra"
)

var filingsCmd = &cobra.Command{
	Use:   "filings [ticker]",
	Short: "List available filings or show one company's filing",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		client := newClient(cfg)
		out := cmd.OutOrStdout()
		r := render.New(out, 0)

		if len(args) == 1 {
			details, err := client.FilingDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s  %s  (%s)\n", details.Ticker, details.CompanyName, details.FilingType)
			for _, section := range details.Sections {
				fmt.Fprintf(out, "  - %s\n", section)
			}
			return nil
		}

		entries, live := newCatalog(cfg, client).List(cmd.Context())
		if !live {
			fmt.Fprintln(cmd.ErrOrStderr(), r.Warning("Backend catalog unavailable, showing built-in list."))
		}
		for _, e := range entries {
			marker := " "
			if strings.EqualFold(e.Ticker, cfg.Ticker) {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %-6s %s\n", marker, e.Ticker, e.CompanyName)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filingsCmd)
}
