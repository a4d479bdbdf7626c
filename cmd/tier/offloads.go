package main

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/tiered/ledger"
	"github.com/vx-labs/tiered/offload"
	"go.uber.org/zap"
)

const entryTemplate = `{{ .EntryID | yellow }} {{ .Payload | bytesToString }}`

type entryView struct {
	EntryID int64
	Payload []byte
}

func Offload(config *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "offload <ledger-id>",
		Short: "Copy a sealed ledger to the offload tier.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseLedgerID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()
			started := time.Now()
			record, err := a.manager.Offload(ctx, config.GetString("managed-ledger-name"), id)
			if err != nil {
				offload.L(ctx).Error("failed to offload ledger", zap.Int64("ledger_id", id), zap.Error(err))
				return err
			}
			offload.L(ctx).Info("ledger offloaded",
				zap.Int64("ledger_id", id),
				zap.String("uuid", record.UUID.String()),
				zap.Int64("entry_count", record.Entries),
				zap.Duration("elapsed_time", time.Since(started)))
			return nil
		},
	}
}

func Read(config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <ledger-id>",
		Short: "Print ledger entries, from the offload tier when the ledger was offloaded.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseLedgerID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()
			h, err := a.manager.Open(ctx, config.GetString("managed-ledger-name"), id)
			if err != nil {
				return err
			}
			defer h.Close()
			first := config.GetInt64("from")
			last := config.GetInt64("to")
			if last < 0 {
				last = h.LastAddConfirmed()
			}
			if err := ledger.CheckRange(first, last, h.LastAddConfirmed()); err != nil {
				return err
			}
			tpl := ParseTemplate(config.GetString("format"))
			for from := first; from <= last; from += offload.EntriesPerRead {
				to := from + offload.EntriesPerRead - 1
				if to > last {
					to = last
				}
				entries, err := h.Read(ctx, from, to)
				if err != nil {
					return err
				}
				for _, e := range entries.Entries() {
					tpl.Execute(cmd.OutOrStdout(), entryView{EntryID: e.EntryID(), Payload: e.Bytes()})
				}
				entries.Close()
			}
			return nil
		},
	}
	cmd.Flags().Int64("from", 0, "First entry to read.")
	cmd.Flags().Int64("to", -1, "Last entry to read. Defaults to the last add confirmed.")
	cmd.Flags().String("format", entryTemplate, "Entry output template.")
	return cmd
}

func Delete(config *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ledger-id>",
		Short: "Delete every offloaded copy of a ledger.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseLedgerID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()
			count, err := a.manager.Delete(ctx, config.GetString("managed-ledger-name"), id)
			if err != nil {
				return err
			}
			offload.L(ctx).Info("offloaded ledger deleted", zap.Int64("ledger_id", id), zap.Int("attempt_count", count))
			return nil
		},
	}
}

func Offloads(config *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offloads",
		Short: "Inspect the offload catalog.",
	}
	list := &cobra.Command{
		Use:   "ls",
		Short: "List offload attempts.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, config)
			if err != nil {
				return err
			}
			defer a.Close()
			name := config.GetString("managed-ledger-name")
			if config.GetBool("all") {
				name = ""
			}
			records, err := a.manager.Records(name)
			if err != nil {
				return err
			}
			table := getTable([]string{"ID", "Managed ledger", "Ledger", "UUID", "Driver", "State", "Entries", "Size", "Updated"}, cmd.OutOrStdout())
			for _, r := range records {
				table.Append([]string{
					r.ID,
					r.ManagedLedgerName,
					strconv.FormatInt(r.LedgerID, 10),
					shorten(r.UUID.String()),
					r.DriverName,
					string(r.State),
					strconv.FormatInt(r.Entries, 10),
					humanBytes(r.Bytes),
					humanize.Time(r.UpdatedAt),
				})
			}
			table.Render()
			return nil
		},
	}
	list.Flags().BoolP("all", "a", false, "List the attempts of every managed ledger.")
	cmd.AddCommand(list)
	return cmd
}
