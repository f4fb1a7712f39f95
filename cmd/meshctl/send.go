package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/meshctl/internal/mesh"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	dest     string
	channel  uint32
	hopLimit uint32
}

func (f *sendFlags) options() mesh.SendOptions {
	return mesh.SendOptions{
		Destination: f.dest,
		Channel:     f.channel,
		HopLimit:    f.hopLimit,
	}
}

func newSendCmd(opts *cliOptions) *cobra.Command {
	flags := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message, position, telemetry or traceroute",
	}
	cmd.PersistentFlags().StringVar(&flags.dest, "dest", "", `destination: "^all", "^local", "!hex", a node number or id (default broadcast)`)
	cmd.PersistentFlags().Uint32Var(&flags.channel, "channel", 0, "channel index")
	cmd.PersistentFlags().Uint32Var(&flags.hopLimit, "hop-limit", 0, "hop limit, 0 uses the radio setting")

	cmd.AddCommand(
		newSendTextCmd(opts, flags),
		newSendPositionCmd(opts, flags),
		newSendTelemetryCmd(opts, flags),
		newSendTraceRouteCmd(opts, flags),
	)
	return cmd
}

func newSendTextCmd(opts *cliOptions, flags *sendFlags) *cobra.Command {
	var ack bool
	cmd := &cobra.Command{
		Use:   "text <message>",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rs, err := openSession(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			sendOpts := flags.options()
			sendOpts.WantAck = ack
			sent, err := rs.iface.SendText(ctx, strings.Join(args, " "), sendOpts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sent %08x to %s\n", sent.ID, idColor(destLabel(flags.dest)))
			if !ack {
				return nil
			}
			result, err := rs.iface.WaitForAckNak(ctx)
			if err != nil {
				return err
			}
			switch {
			case result.Nak:
				fmt.Fprintf(out, "%s %s\n", errColor("rejected:"), result.Reason)
			case result.Implicit:
				fmt.Fprintln(out, warnColor("relayed by a neighbour, no confirmation from the destination"))
			default:
				fmt.Fprintln(out, idColor("delivered"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ack, "ack", false, "request an acknowledgment and wait for it")
	return cmd
}

func newSendPositionCmd(opts *cliOptions, flags *sendFlags) *cobra.Command {
	var (
		req  mesh.PositionRequest
		wait bool
	)
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Send a position report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rs, err := openSession(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			out := cmd.OutOrStdout()
			if !wait {
				sent, err := rs.iface.SendPosition(ctx, req, flags.options())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "sent position %08x\n", sent.ID)
				return nil
			}
			sent, reply, err := rs.iface.SendPositionAndWait(ctx, req, flags.options())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sent position %08x, reply:\n", sent.ID)
			writePacket(out, reply)
			return nil
		},
	}
	cmd.Flags().Float64Var(&req.Latitude, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&req.Longitude, "lon", 0, "longitude in degrees")
	cmd.Flags().Int32Var(&req.Altitude, "alt", 0, "altitude in metres")
	cmd.Flags().BoolVar(&wait, "want-response", false, "ask the destination for its position and wait")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func newSendTelemetryCmd(opts *cliOptions, flags *sendFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Send this radio's device metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rs, err := openSession(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			out := cmd.OutOrStdout()
			if !wait {
				sent, err := rs.iface.SendTelemetry(ctx, flags.options())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "sent telemetry %08x\n", sent.ID)
				return nil
			}
			sent, reply, err := rs.iface.SendTelemetryAndWait(ctx, flags.options())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "sent telemetry %08x, reply:\n", sent.ID)
			writePacket(out, reply)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "want-response", false, "ask the destination for its metrics and wait")
	return cmd
}

func newSendTraceRouteCmd(opts *cliOptions, flags *sendFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "traceroute <dest>",
		Short: "Trace the route to a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rs, err := openSession(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			sent, reply, err := rs.iface.SendTraceRouteAndWait(ctx, args[0], flags.hopLimit, flags.channel)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rd := reply.RouteDiscovery()
			if rd == nil {
				return fmt.Errorf("traceroute %08x: reply carried no route", sent.ID)
			}
			writeRoute(out, rs.iface, reply.FromID, rd)
			return nil
		},
	}
}

func destLabel(dest string) string {
	if dest == "" {
		return "^all"
	}
	return dest
}
