package main

import (
	"fmt"

	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/spf13/cobra"
)

func newNodesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the node database collected during the handshake",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := openSession(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			var local uint32
			if info := rs.iface.MyInfo(); info != nil {
				local = info.MyNodeNum
			}
			writeNodes(cmd.OutOrStdout(), rs.iface.Nodes(), local)
			return nil
		},
	}
}

func newInfoCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the attached radio, its firmware and channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := openSession(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "node:      %s\n", idColor(localID(rs.iface)))
			if n, ok := rs.iface.LocalNode(); ok {
				fmt.Fprintf(out, "name:      %s\n", nodeName(n))
			}
			if info := rs.iface.MyInfo(); info != nil {
				fmt.Fprintf(out, "reboots:   %d\n", info.RebootCount)
			}
			if md := rs.iface.Metadata(); md != nil {
				fmt.Fprintf(out, "firmware:  %s\n", md.FirmwareVersion)
			}
			fmt.Fprintf(out, "session:   %s\n", rs.iface.SessionID())
			fmt.Fprintf(out, "nodes:     %d\n", len(rs.iface.Nodes()))
			fmt.Fprintln(out, "channels:")
			for _, ch := range rs.iface.Channels() {
				if ch.Role == protocol.ChannelRoleDisabled {
					continue
				}
				name := ""
				if ch.Settings != nil {
					name = ch.Settings.Name
				}
				fmt.Fprintf(out, "  %d %-9s %s\n", ch.Index, ch.Role, name)
			}
			return nil
		},
	}
}
