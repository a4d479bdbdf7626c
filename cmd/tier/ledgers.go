package main

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/tiered/commitlog"
	"github.com/vx-labs/tiered/offload"
	"go.uber.org/zap"
)

func parseLedgerID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid ledger id %q", arg)
	}
	return id, nil
}

func Ledgers(config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage ledgers stored in the local tier.",
	}
	write := &cobra.Command{
		Use:   "write <ledger-id>",
		Short: "Write standard input lines as entries of a new ledger, then seal it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseLedgerID(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(config)
			if err != nil {
				return err
			}
			l, err := store.Create(id, commitlog.CreateOptions{})
			if err != nil {
				return err
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), int(commitlog.MaxEntrySize))
			count := 0
			for scanner.Scan() {
				if _, err := l.AddEntry(append([]byte{}, scanner.Bytes()...)); err != nil {
					l.Close()
					return err
				}
				count++
			}
			if err := scanner.Err(); err != nil {
				l.Close()
				return err
			}
			if err := l.Close(); err != nil {
				return err
			}
			offload.L(ctx).Info("ledger written", zap.Int64("ledger_id", id), zap.Int("entry_count", count))
			return nil
		},
	}
	list := &cobra.Command{
		Use:   "ls",
		Short: "List ledgers stored in the local tier.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(config)
			if err != nil {
				return err
			}
			table := getTable([]string{"ID", "State", "Entries", "Size", "Created"}, cmd.OutOrStdout())
			for _, id := range store.List() {
				h, err := store.OpenLedger(id)
				if err != nil {
					return err
				}
				meta := h.Metadata()
				table.Append([]string{
					strconv.FormatInt(id, 10),
					meta.State.String(),
					strconv.FormatInt(h.LastAddConfirmed()+1, 10),
					humanize.Bytes(uint64(h.Length())),
					humanize.Time(msToTime(meta.CreationTime)),
				})
				h.Close()
			}
			stats := store.GetStatistics()
			table.SetFooter([]string{"", "", "total", humanize.Bytes(stats.StoredBytes), fmt.Sprintf("%d ledgers", stats.LedgerCount)})
			table.Render()
			return nil
		},
	}
	cmd.AddCommand(write)
	cmd.AddCommand(list)
	return cmd
}
