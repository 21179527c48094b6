// Package discovery broadcasts this node's presence over a LAN multicast
// group and maintains the peer table from announcements it hears.
//
// Discovery is best-effort: no acknowledgements, self-healing through
// periodic rebroadcast. A malformed packet is dropped and logged; it never
// crashes the listener loop.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/trosyn/lansync/internal/identity"
	"github.com/trosyn/lansync/internal/logging"
	"github.com/trosyn/lansync/internal/models"
	"github.com/trosyn/lansync/internal/peers"
)

// sweepEvery is how often stale peers are checked for eviction.
const sweepEvery = 5 * time.Second

// Packet is the JSON presence announcement sent to the multicast group.
type Packet struct {
	Type     string `json:"type"` // "HUB" or "PEER"
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
	Port     int    `json:"port"` // service port for session exchange
}

// Valid reports whether the packet carries the minimum fields required to
// upsert a peer entry.
func (p *Packet) Valid() bool {
	if p.NodeID == "" || p.Port <= 0 {
		return false
	}
	return p.Type == string(models.RoleHub) || p.Type == string(models.RolePeer)
}

type Service struct {
	id       *identity.Identity
	table    *peers.Table
	group    net.IP
	port     int
	svcPort  int
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	conn net.PacketConn
}

// NewService configures a discovery service over the given multicast group
// and UDP port. svcPort is the session-exchange port announced to peers.
func NewService(id *identity.Identity, table *peers.Table, group string, port, svcPort int,
	interval, timeout time.Duration, l logging.Logger) (*Service, error) {

	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group %q", group)
	}

	return &Service{
		id:       id,
		table:    table,
		group:    ip,
		port:     port,
		svcPort:  svcPort,
		interval: interval,
		timeout:  timeout,
		logger:   l.With("module", "discovery"),
	}, nil
}

// Run joins the multicast group and drives the broadcast, listener, and
// staleness-sweep loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {

	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", s.port))
	if err != nil {
		return fmt.Errorf("discovery listen: %w", err)
	}
	s.conn = conn

	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(nil, &net.UDPAddr{IP: s.group}); err != nil {
		conn.Close()
		return fmt.Errorf("joining multicast group %s: %w", s.group, err)
	}

	s.logger.Info(ctx, "discovery started", "group", s.group.String(), "port", s.port)

	// unblock the reader on shutdown
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.broadcastLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.listenLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweepLoop(ctx)
	}()

	wg.Wait()
	s.logger.Info(ctx, "discovery stopped")
	return nil
}

func (s *Service) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// announce immediately rather than waiting a full interval
	s.broadcast(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(ctx)
		}
	}
}

func (s *Service) broadcast(ctx context.Context) {
	pkt := Packet{
		Type:     string(s.id.Role),
		NodeID:   s.id.NodeID,
		NodeName: s.id.DisplayName,
		Port:     s.svcPort,
	}

	data, err := json.Marshal(pkt)
	if err != nil {
		s.logger.Error(ctx, "marshaling presence packet", "error", err.Error())
		return
	}

	dst := &net.UDPAddr{IP: s.group, Port: s.port}
	if _, err := s.conn.WriteTo(data, dst); err != nil {
		// transient: the next tick rebroadcasts
		s.logger.Warn(ctx, "presence broadcast failed", "error", err.Error())
	}
}

func (s *Service) listenLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, src, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn(ctx, "discovery read error", "error", err.Error())
			continue
		}
		s.handleDatagram(ctx, buf[:n], src)
	}
}

// handleDatagram upserts the sender into the peer table. Split out from the
// read loop so the parsing path is testable without sockets.
func (s *Service) handleDatagram(ctx context.Context, data []byte, src net.Addr) {
	pkt := Packet{}
	if err := json.Unmarshal(data, &pkt); err != nil {
		s.logger.Debug(ctx, "dropping unparsable discovery packet", "from", src.String())
		return
	}
	if !pkt.Valid() {
		s.logger.Debug(ctx, "dropping invalid discovery packet", "from", src.String())
		return
	}
	if pkt.NodeID == s.id.NodeID {
		return
	}

	host := src.String()
	if udp, ok := src.(*net.UDPAddr); ok {
		host = udp.IP.String()
	}

	err := s.table.Upsert(peers.Node{
		NodeID:      pkt.NodeID,
		DisplayName: pkt.NodeName,
		Address:     host,
		Port:        pkt.Port,
		Role:        models.Role(pkt.Type),
	})
	if err != nil {
		s.logger.Error(ctx, "peer table upsert failed", "node", pkt.NodeID, "error", err.Error())
		return
	}
	s.logger.Debug(ctx, "peer seen", "node", pkt.NodeID, "name", pkt.NodeName, "addr", host)
}

func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.table.Sweep(s.timeout) {
				s.logger.Info(ctx, "peer went offline", "node", id)
			}
		}
	}
}
