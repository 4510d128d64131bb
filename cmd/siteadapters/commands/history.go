package commands

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "The maximum amount of transactions to print, 0 prints them all.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <" + strings.Join(siteNames, "|") + "> <account>",
	Short: "Prints the transactions of an account, the account may be an id or something close to its label.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSite(ctx, args[0])
		if err != nil {
			return err
		}
		accounts, err := s.accounts(ctx)
		if err != nil {
			return err
		}
		account, err := findAccount(accounts, args[1])
		if err != nil {
			return err
		}
		slog.Info("reading history", "account", account.Id, "label", account.Label)

		t := newTable()
		t.SetTitle(fmt.Sprintf("%s (%s)", account.Label, account.Id))
		t.AppendHeader(table.Row{"Date", "Label", "Amount"})
		count := 0
		var historyErr error
		for transaction, err := range s.history(ctx, account.Id) {
			if err != nil {
				historyErr = err
				break
			}
			t.AppendRow(table.Row{
				transaction.Date.Format(time.DateOnly),
				transaction.Label,
				fmt.Sprintf("%.2f", transaction.Amount),
			})
			count++
			if historyLimit > 0 && count >= historyLimit {
				break
			}
		}
		alignAmounts(t, 3)
		t.Render()

		if historyErr != nil {
			return fmt.Errorf("history stopped after %d transactions: %w", count, historyErr)
		}
		return nil
	},
}
