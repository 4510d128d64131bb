package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(accountsCmd)
}

var accountsCmd = &cobra.Command{
	Use:       "accounts <" + strings.Join(siteNames, "|") + ">",
	Short:     "Lists the accounts of a site.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: siteNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSite(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		accounts, err := s.accounts(cmd.Context())
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Label", "Type", "Balance"})
		for _, account := range accounts {
			t.AppendRow(table.Row{
				account.Id,
				account.Label,
				account.Kind,
				fmt.Sprintf("%.2f %s", account.Balance, account.Currency),
			})
		}
		alignAmounts(t, 4)
		t.Render()
		return nil
	},
}
