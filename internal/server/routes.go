package server

import (
	"net/http"
	"time"

	"github.com/danmuck/meshctl/internal/nodedb"
	"github.com/danmuck/meshctl/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	s.router.GET("/nodes", s.listNodes)
	s.router.GET("/nodes/:id", s.getNode)
	s.router.GET("/channels", s.listChannels)
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": s.cfg.Name,
		"session": s.session.SessionID(),
		"phase":   s.session.Phase().String(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	}
	if info := s.session.MyInfo(); info != nil {
		body["node"] = protocol.NodeNumToID(info.MyNodeNum)
	}
	if md := s.session.Metadata(); md != nil {
		body["firmware"] = md.FirmwareVersion
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) listNodes(c *gin.Context) {
	nodes := s.session.Nodes()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, viewNode(n))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "nodes": out})
}

// getNode accepts any destination form the session resolves: "!hex", a
// decimal number, a stable id or "^local".
func (s *Server) getNode(c *gin.Context) {
	key := c.Param("id")
	n, ok := s.session.GetNode(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found", "id": key})
		return
	}
	c.JSON(http.StatusOK, viewNode(n))
}

func (s *Server) listChannels(c *gin.Context) {
	channels := s.session.Channels()
	out := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		if ch.Role == protocol.ChannelRoleDisabled {
			continue
		}
		v := channelView{Index: ch.Index, Role: ch.Role.String()}
		if ch.Settings != nil {
			v.Name = ch.Settings.Name
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"channels": out})
}

type nodeView struct {
	Num          uint32   `json:"num"`
	ID           string   `json:"id"`
	LongName     string   `json:"long_name,omitempty"`
	ShortName    string   `json:"short_name,omitempty"`
	LastHeard    uint32   `json:"last_heard,omitempty"`
	Snr          *float32 `json:"snr,omitempty"`
	HopsAway     *uint32  `json:"hops_away,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Altitude     *int32   `json:"altitude,omitempty"`
	BatteryLevel *uint32  `json:"battery_level,omitempty"`
}

type channelView struct {
	Index int32  `json:"index"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
}

func viewNode(n nodedb.Node) nodeView {
	v := nodeView{
		Num:       n.Num,
		ID:        n.ID,
		LastHeard: n.LastHeard,
		Snr:       n.Snr,
		HopsAway:  n.HopsAway,
	}
	if v.ID == "" {
		v.ID = protocol.NodeNumToID(n.Num)
	}
	if n.User != nil {
		v.LongName = n.User.LongName
		v.ShortName = n.User.ShortName
	}
	if lat, ok := n.Position.Latitude(); ok {
		v.Latitude = &lat
	}
	if lon, ok := n.Position.Longitude(); ok {
		v.Longitude = &lon
	}
	if n.Position != nil {
		v.Altitude = n.Position.Altitude
	}
	if n.DeviceMetrics != nil {
		v.BatteryLevel = n.DeviceMetrics.BatteryLevel
	}
	return v
}
