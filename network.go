package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/config"
	"github.com/emirbensusan/lotastro-sync/internal/netstatus"
)

func newNetworkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Inspect or override the connectivity signal",
	}

	cmd.AddCommand(newNetworkShowCmd())
	cmd.AddCommand(newNetworkSetCmd())

	return cmd
}

func newNetworkShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Probe the configured connectivity source once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			src := networkSource(&cc.Cfg.Network, cc.Logger)

			st, err := src.Probe(cmd.Context())
			if err != nil {
				return fmt.Errorf("probing %s source: %w", cc.Cfg.Network.Source, err)
			}

			st.Slow = cc.Cfg.Network.Thresholds().IsSlow(st)

			if cc.Flags.JSON {
				return printJSON(os.Stdout, st)
			}

			fmt.Printf("%s (source: %s)\n", describeNetwork(st), cc.Cfg.Network.Source)

			return nil
		},
	}
}

func newNetworkSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <online|offline>",
		Short: "Write the status file read by the file connectivity source",
		Long: `Write network.status_file. A daemon using source = "file" picks the change up
immediately, which makes it easy to exercise offline behavior.

Examples:
  lotasync network set offline
  lotasync network set online --type 3g --downlink 0.8 --rtt 600ms`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"online", "offline"},
		RunE:      runNetworkSet,
	}

	cmd.Flags().String("type", netstatus.ConnUnknown, "connection type (slow-2g, 2g, 3g, 4g, wifi, ethernet)")
	cmd.Flags().Float64("downlink", 0, "downlink estimate in Mbps")
	cmd.Flags().Duration("rtt", 0, "round-trip time estimate")
	cmd.Flags().Bool("save-data", false, "report the data saver preference")

	return cmd
}

func runNetworkSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := &cc.Cfg.Network

	if cfg.Source != config.SourceFile || cfg.StatusFile == "" {
		return errors.New(`network set requires network.source = "file" and network.status_file`)
	}

	var online bool

	switch args[0] {
	case "online":
		online = true
	case "offline":
	default:
		return fmt.Errorf("unknown state %q (want online or offline)", args[0])
	}

	flags := cmd.Flags()
	connType, _ := flags.GetString("type")
	downlink, _ := flags.GetFloat64("downlink")
	rtt, _ := flags.GetDuration("rtt")
	saveData, _ := flags.GetBool("save-data")

	st := netstatus.Status{
		Online:         online,
		ConnectionType: connType,
		Downlink:       downlink,
		RTT:            rtt.Round(time.Millisecond),
		SaveData:       saveData,
	}

	if err := netstatus.WriteStatusFile(cfg.StatusFile, st); err != nil {
		return err
	}

	cc.Statusf("Network set %s in %s\n", args[0], cfg.StatusFile)

	return nil
}
