// Package installserver implements the DBI protocol state machine: it polls
// a connected Switch for commands and answers LIST and FILE_RANGE requests
// against a file registry, streaming bytes in fixed-size chunks.
package installserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbihost/dbihost/internal/logger"
	"github.com/dbihost/dbihost/internal/protocol/dbi"
	"github.com/dbihost/dbihost/internal/usbtransport"
	"github.com/dbihost/dbihost/pkg/bufpool"
	"github.com/dbihost/dbihost/pkg/metrics"
	"github.com/dbihost/dbihost/pkg/progress"
	"github.com/dbihost/dbihost/pkg/registry"
)

// BufferSegmentDataSize is the chunk size used to stream FILE_RANGE bodies.
const BufferSegmentDataSize = 1 << 20 // 1 MiB

// Transport is the subset of *usbtransport.Transport the server depends on.
// Declared here so tests can substitute a fake without touching real USB
// hardware.
type Transport interface {
	ReadShort(buf []byte) (int, error)
	ReadLong(buf []byte) (int, error)
	WriteLong(buf []byte) error
	Close() error
}

// Config tunes the poll loop's reconnection and streaming behavior.
type Config struct {
	ReconnectAttempts int
	ReconnectInterval time.Duration
	PipeRetryDelay    time.Duration
	ChunkSize         int
}

// DefaultConfig returns the reference reconnection and chunking parameters.
func DefaultConfig() Config {
	return Config{
		ReconnectAttempts: 3,
		ReconnectInterval: 2 * time.Second,
		PipeRetryDelay:    100 * time.Millisecond,
		ChunkSize:         BufferSegmentDataSize,
	}
}

// Server drives exactly one connected Switch through the protocol state
// machine. It is constructed stopped; Start connects and runs the poll loop
// until it exits.
type Server struct {
	cfg      Config
	registry registry.Registry
	progress *progress.Recorder
	connect  func() (Transport, error)

	mu        sync.Mutex
	running   bool
	transport Transport
	lastFile  string
}

// New creates a Server. connect is called to (re)establish the USB
// connection; production callers pass a closure around
// usbtransport.Connect, tests pass a fake.
func New(reg registry.Registry, rec *progress.Recorder, connect func() (Transport, error), cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		progress: rec,
		connect:  connect,
	}
}

// Stop clears the running flag. The in-flight transaction, if any, runs to
// completion or fails on its next transport call; the loop observes the
// cleared flag on its next iteration.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start connects if not already connected, enters the poll loop, and
// returns when the loop exits: on EXIT, on ctx cancellation, on Stop, or on
// a fatal reconnection failure.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.transport != nil {
			s.transport.Close()
			s.transport = nil
		}
		s.mu.Unlock()
	}()

	if s.getTransport() == nil {
		t, err := s.connect()
		if err != nil {
			return fmt.Errorf("installserver: initial connect: %w", err)
		}
		s.setTransport(t)
	}

	header := make([]byte, dbi.HeaderSize)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !s.isRunning() {
			return nil
		}

		if s.getTransport() == nil {
			if err := s.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		n, err := s.getTransport().ReadShort(header)
		if err != nil {
			cont, fatalErr := s.handleTransportError(ctx, err)
			if fatalErr != nil {
				return fatalErr
			}
			if cont {
				continue
			}
		}
		if n < dbi.HeaderSize {
			continue
		}

		cmd, err := dbi.DecodeHeader(header)
		if err != nil {
			logger.Warn("dropping malformed command header", logger.Err(err))
			continue
		}

		lc := logger.NewLogContext(uuid.NewString())
		exit := s.dispatch(logger.WithContext(ctx, lc), cmd)
		if exit {
			return nil
		}
	}
}

func (s *Server) getTransport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Server) setTransport(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// handleTransportError classifies a failed ReadShort. It returns
// (true, nil) when the loop should simply continue polling, and a non-nil
// error when the loop must abort.
func (s *Server) handleTransportError(ctx context.Context, err error) (bool, error) {
	te, ok := err.(*usbtransport.TransportError)
	if !ok {
		return true, nil
	}

	switch te.Kind {
	case usbtransport.KindTimeout:
		return true, nil
	case usbtransport.KindPipeOrIO:
		if metrics.IsEnabled() {
			metrics.TransportErrorsTotal.WithLabelValues("pipe_or_io").Inc()
		}
		time.Sleep(s.cfg.PipeRetryDelay)
		return true, nil
	case usbtransport.KindNoDevice:
		s.mu.Lock()
		if s.transport != nil {
			s.transport.Close()
		}
		s.transport = nil
		s.mu.Unlock()
		return true, nil
	default:
		if metrics.IsEnabled() {
			metrics.TransportErrorsTotal.WithLabelValues("other").Inc()
		}
		return true, nil
	}
}

// reconnect attempts up to cfg.ReconnectAttempts reconnections, sleeping
// cfg.ReconnectInterval between attempts. Exhausting attempts is fatal.
func (s *Server) reconnect(ctx context.Context) error {
	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		logger.Info("attempting usb reconnect", logger.Attempt(attempt, s.cfg.ReconnectAttempts))
		if metrics.IsEnabled() {
			metrics.TransportReconnectsTotal.Inc()
		}

		t, err := s.connect()
		if err == nil {
			s.setTransport(t)
			return nil
		}

		logger.Warn("usb reconnect attempt failed", logger.Attempt(attempt, s.cfg.ReconnectAttempts), logger.Err(err))
		time.Sleep(s.cfg.ReconnectInterval)
	}

	return fmt.Errorf("installserver: reconnection exhausted after %d attempts", s.cfg.ReconnectAttempts)
}

// dispatch handles one command header and reports whether the loop should
// exit (EXIT command was received).
func (s *Server) dispatch(ctx context.Context, cmd dbi.CommandHeader) bool {
	switch cmd.CmdID {
	case dbi.CmdExit:
		logger.InfoCtx(ctx, "received EXIT")
		resp := dbi.CommandHeader{CmdType: dbi.CmdTypeResponse, CmdID: dbi.CmdExit, DataSize: 0}
		_ = s.getTransport().WriteLong(resp.Encode())
		return true

	case dbi.CmdList:
		lc := logger.FromContext(ctx).WithCmd("LIST")
		s.handleList(logger.WithContext(ctx, lc))
		return false

	case dbi.CmdFileRange:
		lc := logger.FromContext(ctx).WithCmd("FILE_RANGE")
		s.handleRange(logger.WithContext(ctx, lc), cmd)
		return false

	case dbi.CmdListOld:
		logger.WarnCtx(ctx, "LIST_OLD command is not supported")
		return false

	default:
		logger.WarnCtx(ctx, "unknown command id", "cmd_id", cmd.CmdID)
		return false
	}
}

// handleList answers a LIST request: snapshot the registry, send a
// RESPONSE header carrying the body length, wait for the Switch's ACK if
// the body is non-empty, then transmit the body.
func (s *Server) handleList(ctx context.Context) {
	entries := s.registry.Snapshot()
	body := dbi.EncodeListBody(entries)

	resp := dbi.CommandHeader{CmdType: dbi.CmdTypeResponse, CmdID: dbi.CmdList, DataSize: uint32(len(body))}
	if err := s.getTransport().WriteLong(resp.Encode()); err != nil {
		logger.ErrorCtx(ctx, "failed to send LIST response header", logger.Err(err))
		return
	}

	if len(body) == 0 {
		return
	}

	ack := make([]byte, dbi.HeaderSize)
	if _, err := s.getTransport().ReadLong(ack); err != nil {
		logger.ErrorCtx(ctx, "failed to read LIST ack", logger.Err(err))
		return
	}

	if err := s.getTransport().WriteLong(body); err != nil {
		logger.ErrorCtx(ctx, "failed to send LIST body", logger.Err(err))
		return
	}

	logger.InfoCtx(ctx, "served LIST", "entries", len(entries), logger.DataSize(uint32(len(body))))
}

// handleRange answers a FILE_RANGE request per the documented ACK/RESPONSE
// frame ordering: ACK-out, body-in, RESPONSE, ACK-in, data-out.
func (s *Server) handleRange(ctx context.Context, cmd dbi.CommandHeader) {
	ack := dbi.CommandHeader{CmdType: dbi.CmdTypeAck, CmdID: dbi.CmdFileRange, DataSize: cmd.DataSize}
	if err := s.getTransport().WriteLong(ack.Encode()); err != nil {
		logger.ErrorCtx(ctx, "failed to send FILE_RANGE ack", logger.Err(err))
		return
	}

	body := bufpool.GetUint32(cmd.DataSize)
	defer bufpool.Put(body)
	if _, err := s.getTransport().ReadLong(body); err != nil {
		logger.ErrorCtx(ctx, "failed to read FILE_RANGE body", logger.Err(err))
		return
	}

	req, err := dbi.DecodeFileRangeRequest(body)
	if err != nil {
		logger.WarnCtx(ctx, "malformed FILE_RANGE body", logger.Err(err))
		return
	}
	ctx = logger.WithContext(ctx, logger.FromContext(ctx).WithFile(req.Name))

	path, ok := s.registry.Lookup(req.Name)
	if !ok {
		logger.WarnCtx(ctx, "FILE_RANGE for unregistered file")
		resp := dbi.CommandHeader{CmdType: dbi.CmdTypeResponse, CmdID: dbi.CmdFileRange, DataSize: 0}
		_ = s.getTransport().WriteLong(resp.Encode())
		if metrics.IsEnabled() {
			metrics.TransfersTotal.WithLabelValues("file_not_found").Inc()
		}
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to stat file", logger.Path(path), logger.Err(err))
		resp := dbi.CommandHeader{CmdType: dbi.CmdTypeResponse, CmdID: dbi.CmdFileRange, DataSize: 0}
		_ = s.getTransport().WriteLong(resp.Encode())
		if metrics.IsEnabled() {
			metrics.TransfersTotal.WithLabelValues("error").Inc()
		}
		return
	}

	fileSize := info.Size()
	var actualSize int64
	if req.RangeOffset < uint64(fileSize) {
		remaining := fileSize - int64(req.RangeOffset)
		actualSize = int64(req.RangeSize)
		if actualSize > remaining {
			actualSize = remaining
		}
	}

	resp := dbi.CommandHeader{CmdType: dbi.CmdTypeResponse, CmdID: dbi.CmdFileRange, DataSize: uint32(actualSize)}
	if err := s.getTransport().WriteLong(resp.Encode()); err != nil {
		logger.ErrorCtx(ctx, "failed to send FILE_RANGE response", logger.Err(err))
		return
	}

	if actualSize == 0 {
		if metrics.IsEnabled() {
			metrics.TransfersTotal.WithLabelValues("ok").Inc()
		}
		return
	}

	finalAck := make([]byte, dbi.HeaderSize)
	if _, err := s.getTransport().ReadLong(finalAck); err != nil {
		logger.ErrorCtx(ctx, "failed to read FILE_RANGE data ack", logger.Err(err))
		return
	}

	if err := s.streamRange(ctx, req.Name, path, fileSize, int64(req.RangeOffset), actualSize); err != nil {
		logger.ErrorCtx(ctx, "failed to stream file range", logger.Err(err))
		if metrics.IsEnabled() {
			metrics.TransfersTotal.WithLabelValues("error").Inc()
		}
		return
	}

	if metrics.IsEnabled() {
		metrics.TransfersTotal.WithLabelValues("ok").Inc()
	}
}

func (s *Server) streamRange(ctx context.Context, displayName, path string, fileSize, offset, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", path, offset, err)
	}

	s.mu.Lock()
	isNewFile := s.lastFile != displayName
	s.lastFile = displayName
	s.mu.Unlock()

	if isNewFile {
		s.progress.BeginFile(displayName, fileSize)
		if metrics.IsEnabled() {
			metrics.CurrentTransferBytes.Set(0)
		}
	}

	remaining := size
	chunkSize := s.cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = BufferSegmentDataSize
	}

	for remaining > 0 {
		n := chunkSize
		if int64(n) > remaining {
			n = int(remaining)
		}

		buf := bufpool.Get(n)
		read, err := io.ReadFull(f, buf)
		if err != nil {
			bufpool.Put(buf)
			return fmt.Errorf("read chunk from %s: %w", path, err)
		}

		if err := s.getTransport().WriteLong(buf); err != nil {
			bufpool.Put(buf)
			return fmt.Errorf("write chunk: %w", err)
		}
		bufpool.Put(buf)

		s.progress.AddBytes(int64(read))
		if metrics.IsEnabled() {
			metrics.BytesStreamedTotal.Add(float64(read))
			metrics.CurrentTransferBytes.Add(float64(read))
		}

		remaining -= int64(read)
	}

	return nil
}
