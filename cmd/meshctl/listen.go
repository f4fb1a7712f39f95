package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/meshctl/internal/events"
	"github.com/danmuck/meshctl/internal/mesh"
	"github.com/danmuck/meshctl/internal/nodedb"
	"github.com/danmuck/meshctl/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errLinkClosed = errors.New("radio link closed")

func newListenCmd(opts *cliOptions) *cobra.Command {
	var (
		status    bool
		deviceLog bool
		nodes     bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print received packets until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rs, err := openSession(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			// Subscribers run on the single event worker, so writes never interleave.
			out := cmd.OutOrStdout()
			rs.iface.Subscribe(mesh.TopicReceive, func(ev events.Event) {
				if p, ok := ev.Payload.(*mesh.Packet); ok {
					writePacket(out, p)
				}
			})
			rs.iface.Subscribe(mesh.TopicConnectionLost, func(events.Event) {
				fmt.Fprintln(out, warnColor("connection lost, waiting for the radio to come back"))
			})
			rs.iface.Subscribe(mesh.TopicConnectionEstablished, func(events.Event) {
				fmt.Fprintln(out, idColor("connection established"))
			})
			if deviceLog {
				rs.iface.Subscribe(mesh.TopicLogLine, func(ev events.Event) {
					fmt.Fprintln(out, dimColor(fmt.Sprint("device: ", ev.Payload)))
				})
			}
			if nodes {
				rs.iface.Subscribe(mesh.TopicNodeUpdated, func(ev events.Event) {
					if n, ok := ev.Payload.(nodedb.Node); ok {
						fmt.Fprintf(out, "node %s %s\n", idColor(n.ID), nodeName(n))
					}
				})
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return nil
				case <-rs.Done():
					if err := rs.Err(); err != nil {
						return fmt.Errorf("%w: %w", errLinkClosed, err)
					}
					return errLinkClosed
				}
			})
			if status {
				srv := server.New(server.Config{
					Name:        opts.cfg.Name,
					Addr:        opts.cfg.StatusAddr,
					CorsOrigins: opts.cfg.CorsOrigins,
				}, rs.iface)
				g.Go(func() error { return srv.Run(gctx) })
			}

			fmt.Fprintf(out, "listening as %s, ctrl-c to stop\n", idColor(localID(rs.iface)))
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "serve the status API on status.addr")
	cmd.Flags().BoolVar(&deviceLog, "device-log", false, "print firmware log lines")
	cmd.Flags().BoolVar(&nodes, "nodes", false, "print node database updates")
	return cmd
}
