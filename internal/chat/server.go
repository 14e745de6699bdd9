package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/andy6609/friends-chat-server/internal/store"
)

// Snapshotter persists registry snapshots. *store.DB implements it.
type Snapshotter interface {
	Save(snap *store.Snapshot) error
}

type Options struct {
	OutboundBuffer int
	// CommandRate limits commands per second on each connection; 0 disables
	// the limit.
	CommandRate  float64
	CommandBurst int
	// SnapshotInterval enables periodic saves in addition to the one at Stop.
	SnapshotInterval time.Duration
	Snapshotter      Snapshotter
}

type Server struct {
	addr     string
	logger   *slog.Logger
	reg      *Registry
	opts     Options
	listener net.Listener

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	saveMu   sync.Mutex
}

func NewServer(addr string, reg *Registry, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = NewRegistry(logger)
	}
	return &Server{
		addr:   addr,
		logger: logger,
		reg:    reg,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

func (s *Server) Registry() *Registry {
	return s.reg
}

// Start binds the listening socket. Failing to bind is the only error the
// server reports; everything after that is handled per connection.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop(ln)

	if s.opts.Snapshotter != nil && s.opts.SnapshotInterval > 0 {
		s.wg.Add(1)
		go s.snapshotLoop(s.opts.SnapshotInterval)
	}

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and writes a final snapshot. Live connections are
// left to end on their own.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("shutting down")

		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()

		if s.opts.Snapshotter != nil {
			if err := s.SaveSnapshot(); err != nil {
				s.logger.Error("final snapshot failed", "error", err)
			}
		}

		s.logger.Info("shutdown complete")
	})
}

func (s *Server) SaveSnapshot() error {
	if s.opts.Snapshotter == nil {
		return errors.New("no snapshotter configured")
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	snap := s.reg.Snapshot()
	if err := s.opts.Snapshotter.Save(snap); err != nil {
		Snapshots.WithLabelValues("error").Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}
	Snapshots.WithLabelValues("ok").Inc()
	s.logger.Info("snapshot saved", "accounts", len(snap.Accounts))
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				// listener closed by Stop
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		c := NewClient(conn, s.opts.OutboundBuffer)
		s.logger.Info("client connected", "conn", c.ID, "addr", conn.RemoteAddr().String())

		go HandleSession(c, s.reg, s.newLimiter(), s.logger)
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.opts.CommandRate <= 0 {
		return nil
	}
	burst := s.opts.CommandBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.CommandRate), burst)
}

func (s *Server) snapshotLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}
