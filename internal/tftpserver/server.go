package tftpserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
	"github.com/bishopdynamics/NetbootStudioV2/internal/metrics"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/netlog"
)

// Server is a lifecycle.Service implementing the read-only TFTP listener
// (§4.5, §6.2). Each Read Request is handed to its own goroutine bound to
// a fresh ephemeral UDP socket, the standard TFTP pattern of moving a
// transfer off the well-known port 69 once it starts (§4.5 "Concurrency:
// ... the server serves many in parallel").
type Server struct {
	cfg      config.TFTPConfig
	resolver *Resolver
	log      *netlog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	conn    net.PacketConn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ lifecycle.Service = (*Server)(nil)
var _ lifecycle.DescriptorProvider = (*Server)(nil)

// NewServer constructs a Server. log may be nil.
func NewServer(cfg config.TFTPConfig, resolver *Resolver, log *netlog.Logger) *Server {
	if log == nil {
		log = netlog.New("tftpserver", false)
	}
	return &Server{cfg: cfg, resolver: resolver, log: log, metrics: metrics.Global()}
}

func (s *Server) Name() string { return "tftp-server" }

func (s *Server) Descriptor() lifecycle.Descriptor {
	return lifecycle.Descriptor{Name: s.Name(), Component: "tftpserver", Capabilities: []string{"read-request", "uboot-script"}}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	conn, err := net.ListenPacket("udp4", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.conn, s.cancel, s.running = conn, cancel, true

	s.wg.Add(1)
	go s.serve(runCtx, conn)

	s.log.Info("tftp server listening", zap.String("addr", s.cfg.BindAddr))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	cancel()
	conn.Close()

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

func (s *Server) serve(ctx context.Context, conn net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("tftp read error", zap.Error(err))
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleRequest(ctx, raw, udpAddr)
		}()
	}
}

func (s *Server) handleRequest(ctx context.Context, raw []byte, remote *net.UDPAddr) {
	req, err := ParseRequest(raw)
	if err != nil {
		s.log.Warn("tftp malformed request", zap.Error(err), zap.String("from", remote.String()))
		return
	}

	tconn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		s.log.Error("tftp dial failed", zap.Error(err))
		return
	}
	defer tconn.Close()

	if req.Opcode == OpWRQ {
		tconn.Write(BuildError(ErrAccessViolation, "writes are not supported"))
		return
	}

	data, err := s.resolver.Resolve(ctx, req.Filename, remote.IP.String())
	if err != nil {
		tconn.Write(BuildError(ErrFileNotFound, err.Error()))
		return
	}

	xfer := &transfer{
		conn:      tconn,
		data:      data,
		blockSize: s.blockSize(req),
		timeout:   s.timeout(req),
		retries:   s.retriesMax(),
		log:       s.log,
	}
	start := time.Now()
	err = xfer.run(req)
	status := "ok"
	if err != nil {
		status = "error"
		s.log.Warn("tftp transfer failed", zap.Error(err), zap.String("file", req.Filename), zap.String("from", remote.String()))
	}
	s.metrics.RecordTFTPTransfer(status, int64(len(data)), time.Since(start))
}

func (s *Server) blockSize(req *Request) int {
	if n, ok := req.RequestedBlockSize(); ok {
		return n
	}
	if s.cfg.BlockSize > 0 {
		return s.cfg.BlockSize
	}
	return 512
}

func (s *Server) timeout(req *Request) time.Duration {
	if n, ok := req.RequestedTimeout(); ok {
		return time.Duration(n) * time.Second
	}
	if s.cfg.TimeoutSecs > 0 {
		return time.Duration(s.cfg.TimeoutSecs) * time.Second
	}
	return 5 * time.Second
}

func (s *Server) retriesMax() int {
	if s.cfg.RetriesMax > 0 {
		return s.cfg.RetriesMax
	}
	return 5
}
