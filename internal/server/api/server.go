// Package api implements the management API: a line oriented TCP protocol
// where each request is "path[ payload]\0" and each response is one JSON line,
// plus long-lived device streams.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/internal/server/api/auth"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
	"github.com/Alia5/VNETIP/internal/server/usb"
	"github.com/Alia5/VNETIP/virtualbus"
)

// Server implements a small TCP API for managing virtual bus topology.
type Server struct {
	usbs   *usb.Server
	addr   string
	ln     net.Listener
	logger *slog.Logger
	router *Router
	config ServerConfig
	key    []byte
}

// New creates a new ApiServer bound to a usb.Server instance.
func New(s *usb.Server, addr string, config ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		usbs:   s,
		addr:   addr,
		logger: logger,
		config: config,
		router: NewRouter(),
	}
}

// Router returns the router used by the API server so callers can register handlers.
func (a *Server) Router() *Router { return a.router }

// USB returns the underlying USB server.
func (a *Server) USB() *usb.Server { return a.usbs }

// Config returns the server configuration.
func (a *Server) Config() ServerConfig { return a.config }

// Addr returns the bound address once started, the configured one before.
func (a *Server) Addr() string {
	if a.ln != nil {
		return a.ln.Addr().String()
	}
	return a.addr
}

// Start listens on the configured address and serves incoming API commands.
func (a *Server) Start() error {
	if a.config.Password != "" {
		key, err := auth.DeriveKey(a.config.Password)
		if err != nil {
			return fmt.Errorf("derive api key: %w", err)
		}
		a.key = key
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.logger.Info("API listening", "addr", ln.Addr().String(), "auth", a.key != nil)
	go a.serve()
	return nil
}

// Close stops the API server.
func (a *Server) Close() {
	if a.ln != nil {
		_ = a.ln.Close()
	}
}

func (a *Server) serve() {
	for {
		c, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				a.logger.Info("API server stopped")
				return
			}
			a.logger.Info("API accept error", "error", err)
			return
		}
		go a.handleConn(c)
	}
}

func (a *Server) writeError(w io.Writer, err error) {
	problemJSON, _ := json.Marshal(apierror.WrapError(err))
	fmt.Fprintf(w, "%s\n", problemJSON)
}

func (a *Server) writeOK(w io.Writer, rest string) {
	fmt.Fprintf(w, "%s\n", rest)
}

// secure runs the optional authentication handshake. Without a configured
// password every connection is plain. With one, remote peers must
// authenticate and local ones may.
func (a *Server) secure(conn net.Conn, r *bufio.Reader) (net.Conn, *bufio.Reader, error) {
	if a.key == nil {
		return conn, r, nil
	}
	isHandshake, err := auth.IsAuthHandshake(r)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, err
	}
	if !isHandshake {
		if a.config.RequireLocalAuth || !isLoopback(conn.RemoteAddr()) {
			return nil, nil, apierror.ErrUnauthorized("authentication required")
		}
		return conn, r, nil
	}
	sessionKey, err := auth.ServerHandshake(r, conn, a.key)
	if err != nil {
		return nil, nil, err
	}
	sc, err := auth.ServerConn(conn, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	return sc, bufio.NewReader(sc), nil
}

// bufferedConn hands bytes the request reader already buffered to the
// stream handler before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

func splitRequest(reqData string) (path, payload string) {
	i := strings.IndexFunc(reqData, unicode.IsSpace)
	if i < 0 {
		return reqData, ""
	}
	return reqData[:i], reqData[i+1:]
}

func (a *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	connLogger := a.logger.With("remote", conn.RemoteAddr().String())
	if a.config.ConnectionTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(a.config.ConnectionTimeout))
	}

	sc, r, err := a.secure(conn, bufio.NewReader(conn))
	if err != nil {
		connLogger.Warn("api authentication failed", "error", err)
		a.writeError(conn, err)
		return
	}
	conn = sc

	// Read until null terminator
	reqData, err := r.ReadString('\x00')
	if err != nil {
		if errors.Is(err, io.EOF) {
			connLogger.Error("api incomplete request (no null terminator)")
		} else {
			connLogger.Error("read api data", "error", err)
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	reqData = strings.TrimSuffix(reqData, "\x00")
	if reqData == "" {
		connLogger.Error("api empty command")
		a.writeError(conn, apierror.ErrBadRequest("empty request"))
		return
	}

	path, payload := splitRequest(reqData)
	if path == "" {
		connLogger.Error("api empty path")
		a.writeError(conn, apierror.ErrBadRequest("empty path"))
		return
	}
	path = strings.ToLower(path)
	connLogger.Debug("api cmd", "path", path)

	if h, params := a.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("api handler error", "path", path, "error", err)
			a.writeError(conn, err)
			return
		}
		connLogger.Debug("api handler success", "path", path)
		a.writeOK(conn, res.JSON)
		return
	}
	if sh, params := a.router.MatchStream(path); sh != nil {
		a.handleStream(&bufferedConn{Conn: conn, r: r}, sh, params, connLogger)
		return
	}
	connLogger.Error("api unknown path", "path", path)
	a.writeError(conn, apierror.ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}

func (a *Server) handleStream(conn net.Conn, sh StreamHandlerFunc, params map[string]string, logger *slog.Logger) {
	busID, err := strconv.ParseUint(params["busId"], 10, 32)
	if err != nil {
		a.writeError(conn, apierror.ErrBadRequest(fmt.Sprintf("invalid busId: %v", err)))
		return
	}
	bus := a.usbs.GetBus(uint32(busID))
	if bus == nil {
		a.writeError(conn, apierror.ErrNotFound(fmt.Sprintf("bus %d not found", busID)))
		return
	}
	devID := params["deviceid"]
	dev, devCtx, ok := bus.Device(devID)
	if !ok {
		a.writeError(conn, apierror.ErrNotFound(fmt.Sprintf("device %s not found on bus %d", devID, busID)))
		return
	}

	logger = logger.With("busID", busID, "deviceID", devID)
	logger.Info("api stream begin")

	if connTimer := device.GetConnTimer(devCtx); connTimer != nil {
		connTimer.Stop()
	}

	// Stream handler takes ownership of connection
	if err := sh(conn, &dev, logger); err != nil {
		logger.Error("api stream handler error", "error", err)
	}
	logger.Info("api stream end")

	if devCtx.Err() == nil {
		a.scheduleRemoval(bus, devCtx, logger)
	}
}

// scheduleRemoval removes the device when no stream reconnects within
// DeviceHandlerConnectTimeout. A new stream stops the timer.
func (a *Server) scheduleRemoval(bus *virtualbus.VirtualBus, devCtx context.Context, logger *slog.Logger) {
	connTimer := device.GetConnTimer(devCtx)
	meta := device.GetDeviceMeta(devCtx)
	if connTimer == nil || meta == nil {
		return
	}
	connTimer.Reset(a.config.DeviceHandlerConnectTimeout)
	go func() {
		select {
		case <-devCtx.Done():
			connTimer.Stop()
		case <-connTimer.C:
			deviceID := strconv.FormatUint(uint64(meta.DevId), 10)
			if err := bus.RemoveDeviceByID(deviceID); err != nil {
				logger.Error("disconnect timeout: failed to remove device", "error", err)
			} else {
				logger.Info("disconnect timeout: removed device (no reconnection)")
			}
		}
	}()
}
