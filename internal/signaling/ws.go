package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsPath is where the signaling endpoint is mounted.
const wsPath = "/ws"

// acceptBacklog bounds upgraded connections not yet picked up by the host.
const acceptBacklog = 16

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// server is the host-side WebSocket server. Unlike a one-shot pairing server
// it stays up for the whole session and hands every upgraded connection to
// accept.
type server struct {
	listener net.Listener
	httpSrv  *http.Server
	connCh   chan *websocket.Conn
	done     chan struct{}
}

// listen starts serving on addr (":0" picks a free port).
func listen(addr string) (*server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	s := &server{
		listener: listener,
		connCh:   make(chan *websocket.Conn, acceptBacklog),
		done:     make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.handleWS)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		_ = s.httpSrv.Serve(listener)
	}()

	return s, nil
}

// addr returns the bound address, useful when listening on port 0.
func (s *server) addr() net.Addr {
	return s.listener.Addr()
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case s.connCh <- conn:
	case <-s.done:
		conn.Close()
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "host busy"))
		conn.Close()
	}
}

// accept blocks until a client connects, the server closes, or ctx ends.
func (s *server) accept(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-s.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops accepting; already handed-off connections are unaffected.
func (s *server) close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.httpSrv.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// connect dials the given WebSocket URL and returns the connection.
func connect(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// dialURL turns a join address into a WebSocket URL. Full ws:// or wss://
// URLs pass through; a bare host:port gets the default scheme and path.
func dialURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	addr = strings.TrimPrefix(addr, "http://")
	if strings.HasPrefix(addr, "https://") {
		return "wss://" + strings.TrimSuffix(strings.TrimPrefix(addr, "https://"), "/") + wsPath
	}
	return "ws://" + strings.TrimSuffix(addr, "/") + wsPath
}
