package httpcore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/searchktools/reactorweb/core/buffer"
)

func writeFixture(t *testing.T, dir string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "welcome.html"), []byte("<html>hi</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "404.html"), []byte("<html>missing</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMakeResponseServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	r := NewResponse()
	r.Init(dir, "/welcome.html", true, -1)
	buf := buffer.New()
	r.MakeResponse(buf)
	defer r.Close()

	head := buf.RetrieveAllToString()
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("unexpected status line: %q", head)
	}
	if !strings.Contains(head, "Connection: keep-alive\r\n") {
		t.Fatalf("missing keep-alive header: %q", head)
	}
	if !strings.Contains(head, "Content-type: text/html\r\n") {
		t.Fatalf("missing content-type header: %q", head)
	}
	if r.File() == nil || r.FileLen() != int64(len("<html>hi</html>")) {
		t.Fatalf("expected mapped body of matching length, got len=%d", r.FileLen())
	}
}

func TestMakeResponseMissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	r := NewResponse()
	r.Init(dir, "/nope.html", false, -1)
	buf := buffer.New()
	r.MakeResponse(buf)
	defer r.Close()

	head := buf.RetrieveAllToString()
	if !strings.HasPrefix(head, "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("unexpected status line: %q", head)
	}
	if !strings.Contains(head, "Connection: close\r\n") {
		t.Fatalf("expected close header: %q", head)
	}
}

func TestMakeResponseDirectoryIs404(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewResponse()
	r.Init(dir, "/sub", false, -1)
	buf := buffer.New()
	r.MakeResponse(buf)
	defer r.Close()

	if !strings.HasPrefix(buf.RetrieveAllToString(), "HTTP/1.1 404 Not Found\r\n") {
		t.Fatalf("expected 404 for directory path")
	}
}

func TestInitReinitializesAfterClose(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	r := NewResponse()
	r.Init(dir, "/welcome.html", true, -1)
	buf := buffer.New()
	r.MakeResponse(buf)
	r.Close()

	r.Init(dir, "/404.html", false, -1)
	buf2 := buffer.New()
	r.MakeResponse(buf2)
	defer r.Close()

	if !strings.HasPrefix(buf2.RetrieveAllToString(), "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("expected 200 for explicit error-page path served directly")
	}
}
