package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// IPC commands understood by the control socket.
const (
	CmdStatus = "STATUS"
	CmdSend   = "SEND"
	CmdPing   = "PING"
)

// IPCHandler processes incoming IPC commands. Implementations dispatch
// commands to the appropriate daemon subsystem.
type IPCHandler interface {
	HandleCommand(cmd string) (string, error)
}

// LoopHandler answers control commands from a running Loop.
type LoopHandler struct {
	Loop *Loop
}

// HandleCommand implements IPCHandler.
func (h LoopHandler) HandleCommand(cmd string) (string, error) {
	switch cmd {
	case CmdStatus:
		st := h.Loop.Status()
		data, err := json.Marshal(&st)
		if err != nil {
			return "", fmt.Errorf("marshal status: %w", err)
		}
		return string(data), nil
	case CmdSend:
		queued := h.Loop.Trigger()
		return fmt.Sprintf(`{"triggered":true,"already_pending":%t}`, !queued), nil
	case CmdPing:
		return `{"pong":true}`, nil
	default:
		return "", fmt.Errorf("unknown command %q", cmd)
	}
}

// IPCServer listens on a Unix domain socket for line-based text commands
// and returns JSON responses.
//
// Protocol:
//   - Client sends a single line: COMMAND
//   - Server responds with a JSON line followed by a newline.
//   - Supported commands: STATUS, SEND, PING
type IPCServer struct {
	socketPath string
	handler    IPCHandler
	logger     *slog.Logger
	listener   net.Listener
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewIPCServer creates an IPC server that will listen on socketPath and
// dispatch commands to handler.
func NewIPCServer(socketPath string, handler IPCHandler, logger *slog.Logger) *IPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IPCServer{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start listens on the socket path with mode 0600. A leftover socket from a
// crashed daemon is replaced; one that still answers is an error.
func (s *IPCServer) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if conn, err := net.DialTimeout("unix", s.socketPath, time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("control socket %s is in use", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop shuts down the IPC server. It closes the listener, waits for active
// connections to finish, and removes the socket file. Safe to call twice.
func (s *IPCServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *IPCServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Debug("ipc accept failed", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn reads one line, dispatches it, and writes the response.
func (s *IPCServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return
	}

	cmd := parseIPCCommand(line)
	s.logger.Debug("ipc command", "cmd", cmd)

	response, err := s.handler.HandleCommand(cmd)
	if err != nil {
		s.logger.Debug("ipc command rejected", "cmd", cmd, "error", err)
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(conn, "%s\n", data)
		return
	}

	// Compact to one line; non-JSON responses are sent as-is.
	if compacted, err := compactJSON(response); err == nil {
		response = compacted
	}

	fmt.Fprintf(conn, "%s\n", response)
}

// parseIPCCommand returns the upper-cased first word of line.
func parseIPCCommand(line string) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return ""
	}
	return strings.ToUpper(parts[0])
}

// IPCClient connects to a running daemon via Unix socket to send commands.
type IPCClient struct {
	socketPath string
}

// NewIPCClient creates a client that will connect to the daemon at socketPath.
func NewIPCClient(socketPath string) *IPCClient {
	return &IPCClient{socketPath: socketPath}
}

// SendCommand sends a text command to the daemon and returns the response
// line. Each call opens a new connection.
func (c *IPCClient) SendCommand(ctx context.Context, cmd string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return "", fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", cmd); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return "", fmt.Errorf("empty response from daemon")
	}

	return scanner.Text(), nil
}

// Status fetches and decodes the daemon's HealthStatus.
func (c *IPCClient) Status(ctx context.Context) (*HealthStatus, error) {
	line, err := c.SendCommand(ctx, CmdStatus)
	if err != nil {
		return nil, err
	}
	if err := responseError(line); err != nil {
		return nil, err
	}
	var st HealthStatus
	if err := json.Unmarshal([]byte(line), &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// Trigger asks the daemon for an immediate cycle. pending is true when a
// cycle had already been requested and this call was merged into it.
func (c *IPCClient) Trigger(ctx context.Context) (pending bool, err error) {
	line, err := c.SendCommand(ctx, CmdSend)
	if err != nil {
		return false, err
	}
	if err := responseError(line); err != nil {
		return false, err
	}
	var resp struct {
		Triggered      bool `json:"triggered"`
		AlreadyPending bool `json:"already_pending"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return false, fmt.Errorf("decode send response: %w", err)
	}
	if !resp.Triggered {
		return false, fmt.Errorf("daemon did not accept the trigger")
	}
	return resp.AlreadyPending, nil
}

// responseError extracts an {"error": ...} reply.
func responseError(line string) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal([]byte(line), &e) == nil && e.Error != "" {
		return fmt.Errorf("daemon: %s", e.Error)
	}
	return nil
}

// compactJSON removes whitespace from JSON to produce a single-line string
// suitable for line-based IPC transport.
func compactJSON(s string) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
