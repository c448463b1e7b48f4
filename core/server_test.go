package core

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/reactorweb/config"
	"github.com/searchktools/reactorweb/core/logger"
)

func startTestServer(t *testing.T, cfg *config.Config) (*Server, func()) {
	t.Helper()
	log := logger.New(os.Stdout, logger.LevelError, 16)
	s := New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("server exited before ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not become ready")
	}

	return s, func() {
		cancel()
		log.Close()
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "welcome.html"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "404.html"), []byte("not found here"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Port:         0,
		TrigMode:     0,
		TimeoutMS:    60000,
		ThreadNum:    2,
		OpenLog:      false,
		LogQueueSize: 16,
		Root:         root,
	}
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	port, err := s.Addr()
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readStatusLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func TestServerServesWelcomePage(t *testing.T) {
	s, stop := startTestServer(t, testConfig(t))
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nConnection: close\r\n\r\n")
	status := readStatusLine(t, conn)
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("status = %q, want 200 OK", status)
	}
}

func TestServerServes404ForMissingFile(t *testing.T) {
	s, stop := startTestServer(t, testConfig(t))
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	fmt.Fprintf(conn, "GET /nope HTTP/1.1\r\nConnection: close\r\n\r\n")
	status := readStatusLine(t, conn)
	if status != "HTTP/1.1 404 Not Found" {
		t.Fatalf("status = %q, want 404 Not Found", status)
	}
}

func TestServerMalformedRequestLineIs400(t *testing.T) {
	s, stop := startTestServer(t, testConfig(t))
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	fmt.Fprintf(conn, "NOTAREQUEST\r\n\r\n")
	status := readStatusLine(t, conn)
	if status != "HTTP/1.1 400 Bad Request" {
		t.Fatalf("status = %q, want 400 Bad Request", status)
	}
}

func TestServerKeepAliveServesTwoRequests(t *testing.T) {
	s, stop := startTestServer(t, testConfig(t))
	defer stop()

	conn := dial(t, s)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("first response: %v", err)
	}
	if !strings.HasPrefix(line, "HTTP/1.1 200") {
		t.Fatalf("first status = %q", line)
	}
	drainHeaders(t, reader)
	if _, err := reader.Discard(len("hello world")); err != nil {
		t.Fatalf("first body: %v", err)
	}

	fmt.Fprintf(conn, "GET /nope HTTP/1.1\r\nConnection: close\r\n\r\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line2, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("second response: %v", err)
	}
	if !strings.HasPrefix(line2, "HTTP/1.1 404") {
		t.Fatalf("second status = %q, want 404", line2)
	}
}

func drainHeaders(t *testing.T, r *bufio.Reader) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("drain headers: %v", err)
		}
		if line == "\r\n" {
			return
		}
	}
}

func TestServerBusyWhenAtCapacity(t *testing.T) {
	cfg := testConfig(t)
	s, stop := startTestServer(t, cfg)
	defer stop()
	s.maxFD = 0 // force every new connection over capacity

	conn := dial(t, s)
	defer conn.Close()

	status := readStatusLine(t, conn)
	if !strings.Contains(status, "400") {
		t.Fatalf("status = %q, want the over-capacity 400", status)
	}
}

func TestServerIdleConnectionIsReaped(t *testing.T) {
	cfg := testConfig(t)
	cfg.TimeoutMS = 50
	s, stop := startTestServer(t, cfg)
	defer stop()

	conn := dial(t, s)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("expected connection to be closed by idle reaping")
	}
}
