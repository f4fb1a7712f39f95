package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danmuck/meshctl/internal/mesh"
	"github.com/danmuck/meshctl/internal/nodedb"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/fatih/color"
)

var (
	idColor    = color.New(color.FgGreen).SprintFunc()
	topicColor = color.New(color.FgCyan).SprintFunc()
	warnColor  = color.New(color.FgYellow).SprintFunc()
	errColor   = color.New(color.FgRed).SprintFunc()
	dimColor   = color.New(color.Faint).SprintFunc()
)

func setColor(enabled bool) {
	if !enabled {
		color.NoColor = true
	}
}

func localID(iface *mesh.Interface) string {
	if info := iface.MyInfo(); info != nil {
		return protocol.NodeNumToID(info.MyNodeNum)
	}
	return "?"
}

func nodeName(n nodedb.Node) string {
	if n.User != nil && n.User.LongName != "" {
		return n.User.LongName
	}
	return "-"
}

// writePacket prints one received packet on a single line.
func writePacket(w io.Writer, p *mesh.Packet) {
	fmt.Fprintf(w, "%s %s -> %s %s", dimColor(time.Now().Format("15:04:05")), idColor(p.FromID), idColor(p.ToID), topicColor(p.Topic))
	if p.Decoded == nil {
		fmt.Fprintln(w, warnColor(" (encrypted)"))
		return
	}
	switch {
	case p.Decoded.Text != "":
		fmt.Fprintf(w, " %q", p.Decoded.Text)
	case p.Position() != nil:
		writePosition(w, p.Position())
	case p.User() != nil:
		fmt.Fprintf(w, " %s (%s)", p.User().LongName, p.User().ShortName)
	case p.Telemetry() != nil && p.Telemetry().DeviceMetrics != nil:
		writeMetrics(w, p.Telemetry().DeviceMetrics)
	case p.IsAck():
		fmt.Fprintf(w, " ack for %08x", p.Decoded.RequestID)
	case p.Routing() != nil:
		fmt.Fprintf(w, " %s", errColor(p.Routing().ErrorReason.String()))
	default:
		fmt.Fprintf(w, " %d bytes", len(p.Decoded.Payload))
	}
	if p.RxSnr != 0 {
		fmt.Fprintf(w, " %s", dimColor(fmt.Sprintf("snr=%.1f", p.RxSnr)))
	}
	fmt.Fprintln(w)
}

func writePosition(w io.Writer, pos *protocol.Position) {
	lat, okLat := pos.Latitude()
	lon, okLon := pos.Longitude()
	if !okLat || !okLon {
		fmt.Fprint(w, " position (no fix)")
		return
	}
	fmt.Fprintf(w, " %.5f,%.5f", lat, lon)
	if pos.Altitude != nil {
		fmt.Fprintf(w, " %dm", *pos.Altitude)
	}
}

func writeMetrics(w io.Writer, m *protocol.DeviceMetrics) {
	if m.BatteryLevel != nil {
		fmt.Fprintf(w, " battery=%d%%", *m.BatteryLevel)
	}
	if m.Voltage != nil {
		fmt.Fprintf(w, " voltage=%.2fV", *m.Voltage)
	}
	if m.ChannelUtilization != nil {
		fmt.Fprintf(w, " chutil=%.1f%%", *m.ChannelUtilization)
	}
	if m.UptimeSeconds != nil {
		fmt.Fprintf(w, " uptime=%s", time.Duration(*m.UptimeSeconds)*time.Second)
	}
}

func writeNodes(w io.Writer, nodes []nodedb.Node, local uint32) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSHORT\tHOPS\tSNR\tLAST HEARD\tPOSITION")
	for _, n := range nodes {
		id := n.ID
		if id == "" {
			id = protocol.NodeNumToID(n.Num)
		}
		if n.Num == local {
			id += "*"
		}
		short := "-"
		if n.User != nil && n.User.ShortName != "" {
			short = n.User.ShortName
		}
		hops := "-"
		if n.HopsAway != nil {
			hops = fmt.Sprint(*n.HopsAway)
		}
		snr := "-"
		if n.Snr != nil {
			snr = fmt.Sprintf("%.1f", *n.Snr)
		}
		heard := "-"
		if n.LastHeard != 0 {
			heard = time.Since(time.Unix(int64(n.LastHeard), 0)).Round(time.Second).String() + " ago"
		}
		pos := "-"
		if lat, ok := n.Position.Latitude(); ok {
			lon, _ := n.Position.Longitude()
			pos = fmt.Sprintf("%.5f,%.5f", lat, lon)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, nodeName(n), short, hops, snr, heard, pos)
	}
	_ = tw.Flush()
}

func writeRoute(w io.Writer, iface *mesh.Interface, dest string, rd *protocol.RouteDiscovery) {
	name := func(num uint32) string {
		if n, ok := iface.GetNode(fmt.Sprint(num)); ok && n.ID != "" {
			return n.ID
		}
		return protocol.NodeNumToID(num)
	}
	hops := append([]string{localID(iface)}, mapNums(rd.Route, name)...)
	fmt.Fprintf(w, "route to %s: %s -> %s\n", idColor(dest), strings.Join(hops, " -> "), idColor(dest))
	if len(rd.RouteBack) > 0 || len(rd.SnrBack) > 0 {
		back := append([]string{dest}, mapNums(rd.RouteBack, name)...)
		fmt.Fprintf(w, "route back: %s -> %s\n", strings.Join(back, " -> "), localID(iface))
	}
}

func mapNums(nums []uint32, fn func(uint32) string) []string {
	out := make([]string, 0, len(nums))
	for _, n := range nums {
		out = append(out, fn(n))
	}
	return out
}
