package dhcpsniff

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/metrics"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/netlog"
)

// Config holds the bind parameters and the expected server answers used to
// sanity-check Offers (§4.4).
type Config struct {
	Interface        string
	ServerIP         string
	BootFilename     string
	SettingsProvider func(arch clientstore.Arch) clientstore.Config
}

// Sniffer is a lifecycle.Service that passively listens for DHCP broadcast
// traffic on port 67 (server->client replies the client also broadcasts
// through, and client->server requests on some setups) and port 68, and
// reacts to what it sees without ever writing a packet of its own (§9).
// It listens via net.ListenPacket rather than OS-level packet capture:
// DHCP broadcasts are already visible as ordinary UDP datagrams to any
// host on the segment, so no raw socket or capture library is needed for
// the frames this system classifies.
type Sniffer struct {
	cfg     Config
	store   clientstore.Store
	log     *netlog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn67  net.PacketConn
	conn68  net.PacketConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ lifecycle.Service = (*Sniffer)(nil)
var _ lifecycle.DescriptorProvider = (*Sniffer)(nil)

// NewSniffer constructs a Sniffer. log may be nil, in which case a
// production zap logger is built.
func NewSniffer(cfg Config, store clientstore.Store, log *netlog.Logger) *Sniffer {
	if log == nil {
		log = netlog.New("dhcpsniff", false)
	}
	return &Sniffer{cfg: cfg, store: store, log: log, metrics: metrics.Global()}
}

func (s *Sniffer) Name() string { return "dhcp-sniffer" }

func (s *Sniffer) Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{Name: s.Name(), Component: "dhcpsniff", Capabilities: []string{"discover", "offer-check"}}
}

func (s *Sniffer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	conn67, err := net.ListenPacket("udp4", ":67")
	if err != nil {
		return err
	}
	conn68, err := net.ListenPacket("udp4", ":68")
	if err != nil {
		conn67.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.conn67, s.conn68, s.cancel, s.running = conn67, conn68, cancel, true

	s.wg.Add(2)
	go s.serve(runCtx, conn67)
	go s.serve(runCtx, conn68)

	s.log.Info("dhcp sniffer listening", zap.String("interface", s.cfg.Interface))
	return nil
}

func (s *Sniffer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	conn67, conn68 := s.conn67, s.conn68
	s.mu.Unlock()

	cancel()
	conn67.Close()
	conn68.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve reads datagrams from conn until ctx is cancelled or the socket is
// closed, handing each one to handlePacket.
func (s *Sniffer) serve(ctx context.Context, conn net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("dhcp read error", zap.Error(err))
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		s.handlePacket(ctx, raw)
	}
}

func (s *Sniffer) handlePacket(ctx context.Context, raw []byte) {
	pkt, err := ParsePacket(raw)
	if err != nil {
		// Not every broadcast UDP datagram on 67/68 is a DHCP frame worth
		// logging about; malformed/foreign packets are dropped silently.
		return
	}

	msgType := pkt.Options.MessageType()
	s.metrics.RecordDHCPPacket(messageTypeLabel(msgType))

	switch msgType {
	case MsgDiscover:
		s.handleDiscover(ctx, pkt)
	case MsgOffer:
		s.handleOffer(pkt)
	}
}

// messageTypeLabel returns a metrics-friendly label for a DHCP message type
// option value.
func messageTypeLabel(msgType byte) string {
	switch msgType {
	case MsgDiscover:
		return "discover"
	case MsgOffer:
		return "offer"
	default:
		return "other"
	}
}

// handleDiscover classifies the client and, if it is unknown or lacks an
// assigned iPXE build, creates a stub record (§4.4, §5's idempotent-fail
// collapse of racing discovers into a single create).
func (s *Sniffer) handleDiscover(ctx context.Context, pkt *Packet) {
	class, err := Classify(pkt)
	if err != nil {
		s.log.Warn("dhcp classify failed", zap.Error(err))
		return
	}
	if class.MAC == "" {
		return
	}

	exists, err := s.store.Exists(ctx, class.MAC)
	if err != nil {
		s.log.Error("dhcp sniffer: store.Exists failed", zap.Error(err), zap.String("mac", class.MAC))
		return
	}

	needsStub := !exists
	var existing clientstore.Client
	if exists {
		existing, err = s.store.Get(ctx, class.MAC)
		if err != nil {
			s.log.Error("dhcp sniffer: store.Get failed", zap.Error(err), zap.String("mac", class.MAC))
			return
		}
		if existing.Config.IPXEBuild == "" {
			needsStub = true
		}
	}
	if !needsStub {
		return
	}

	var seed clientstore.Config
	if s.cfg.SettingsProvider != nil {
		seed = s.cfg.SettingsProvider(class.Arch)
	}

	dhcpInfo := map[string]interface{}{
		"option_93":      class.Option93Name,
		"vendor_class":   class.VendorClass,
		"option_60_arch": class.Option60ArchName,
		"xid":            pkt.Xid,
	}

	_, err = s.store.Create(ctx, class.MAC, class.Arch, dhcpInfo, seed)
	if err != nil && !errors.Is(err, clientstore.ErrAlreadyExists) {
		s.log.Error("dhcp sniffer: store.Create failed", zap.Error(err), zap.String("mac", class.MAC))
		return
	}
	s.metrics.RecordClientDiscovery(string(class.Arch))

	s.log.Info("dhcp sniffer classified new client",
		zap.String("mac", class.MAC),
		zap.String("arch", string(class.Arch)),
		zap.String("option93", class.Option93Name),
		zap.String("vendor_class", class.VendorClass),
		zap.String("option60_arch", class.Option60ArchName),
	)
}

// handleOffer implements the Offer sanity check (§4.4): it never reacts by
// sending anything, only warns on mismatch.
func (s *Sniffer) handleOffer(pkt *Packet) {
	nextServer := pkt.SIAddr.String()
	if s.cfg.ServerIP != "" && nextServer != "0.0.0.0" && nextServer != s.cfg.ServerIP {
		s.log.Warn("dhcp offer next-server mismatch",
			zap.String("expected", s.cfg.ServerIP),
			zap.String("got", nextServer),
		)
	}

	bootFile := pkt.Options.String(OptTFTPServerName)
	if bootFile != "" && s.cfg.BootFilename != "" && bootFile != s.cfg.BootFilename {
		s.log.Warn("dhcp offer boot filename mismatch",
			zap.String("expected", s.cfg.BootFilename),
			zap.String("got", bootFile),
		)
	}
}
