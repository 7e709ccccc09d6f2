// Package proxy is a USB/IP man-in-the-middle for debugging: it forwards
// connections to an upstream server and logs the decoded traffic, including
// the RNDIS messages carried inside the URBs.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/Alia5/VNETIP/internal/log"
)

type Server struct {
	listenAddr        string
	upstreamAddr      string
	connectionTimeout time.Duration
	logger            *slog.Logger
	rawLogger         log.RawLogger

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}
}

func New(listenAddr, upstreamAddr string, connectionTimeout time.Duration, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	return &Server{
		listenAddr:        listenAddr,
		upstreamAddr:      upstreamAddr,
		connectionTimeout: connectionTimeout,
		logger:            logger,
		rawLogger:         rawLogger,
		ready:             make(chan struct{}),
	}
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)
	s.logger.Info("USB-IP proxy listening", "addr", ln.Addr().String(), "upstream", s.upstreamAddr)

	for {
		clientConn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("Proxy server stopped")
				return nil
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		go s.handleProxy(clientConn)
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handleProxy(clientConn net.Conn) {
	defer clientConn.Close()
	logger := s.logger.With("remote", clientConn.RemoteAddr().String())

	upstreamConn, err := net.DialTimeout("tcp", s.upstreamAddr, s.connectionTimeout)
	if err != nil {
		logger.Error("Failed to connect to upstream", "upstream", s.upstreamAddr, "error", err)
		return
	}
	defer upstreamConn.Close()
	logger.Info("Proxying connection", "upstream", upstreamConn.RemoteAddr().String())

	// The first request must arrive within the timeout; the deadline is
	// lifted once traffic flows.
	if err := clientConn.SetReadDeadline(time.Now().Add(s.connectionTimeout)); err != nil {
		logger.Error("Failed to set client deadline", "error", err)
		return
	}

	toServer, toClient := NewConnParsers(logger)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := s.pipe(upstreamConn, clientConn, toServer, true)
		if err != nil && !isExpectedDisconnect(err) {
			logger.Debug("Client->Server copy error", "error", err)
		}
		logger.Debug("Client->Server stream ended", "bytes", n)
		halfClose(upstreamConn, true)
		halfClose(clientConn, false)
	}()
	go func() {
		defer wg.Done()
		n, err := s.pipe(clientConn, upstreamConn, toClient, false)
		if err != nil && !isExpectedDisconnect(err) {
			logger.Debug("Server->Client copy error", "error", err)
		}
		logger.Debug("Server->Client stream ended", "bytes", n)
		halfClose(clientConn, true)
		halfClose(upstreamConn, false)
	}()
	wg.Wait()
	logger.Info("Connection closed")
}

// pipe copies src to dst, feeding every chunk to the raw logger and parser.
func (s *Server) pipe(dst, src net.Conn, parser *Parser, clientToServer bool) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	first := true
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if first {
				_ = src.SetReadDeadline(time.Time{})
				first = false
			}
			s.rawLogger.Log(clientToServer, buf[:n])
			parser.Parse(buf[:n])

			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}

func halfClose(conn net.Conn, write bool) {
	if tc, ok := conn.(*net.TCPConn); ok {
		if write {
			_ = tc.CloseWrite()
		} else {
			_ = tc.CloseRead()
		}
	}
}

func isExpectedDisconnect(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
