package httpcore

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/searchktools/reactorweb/core/buffer"
	"github.com/searchktools/reactorweb/core/mime"
)

// Response builds the bytes of an HTTP/1.1 response for one request,
// memory-mapping the backing file for the body rather than copying it
// into the output buffer. A Response is reused across keep-alive
// requests on the same connection: Init releases the previous
// request's mapping, and Close releases the last one.
type Response struct {
	code        int
	path        string
	root        string
	isKeepAlive bool

	mapped   []byte
	fileSize int64
}

// NewResponse returns an unINITialized Response; call Init before use.
func NewResponse() *Response {
	return &Response{code: -1}
}

// Init prepares r for a new request. If a previous mapping is still
// held, it is unmapped first.
func (r *Response) Init(root, path string, isKeepAlive bool, code int) {
	if r.mapped != nil {
		r.unmap()
	}
	r.root = root
	r.path = path
	r.isKeepAlive = isKeepAlive
	r.code = code
	r.fileSize = 0
}

// MakeResponse stats the requested file, resolves it (or an error page)
// to a status code, and appends the status line, headers, and body onto
// buf. The body is memory-mapped in place, not copied.
func (r *Response) MakeResponse(buf *buffer.Buffer) {
	full := r.root + r.path
	info, err := os.Stat(full)
	switch {
	case r.code == 400:
		// A malformed request keeps its 400 whatever its path stats to.
	case err != nil || info.IsDir():
		r.code = 404
	case info.Mode().Perm()&0004 == 0:
		r.code = 403
	case r.code == -1:
		r.code = 200
	}

	r.resolveErrorPage()
	r.addStatusLine(buf)
	r.addHeader(buf)
	r.addContent(buf)
}

// resolveErrorPage swaps r.path to the error page on file for 400/403/404
// so addContent opens that file instead of the missing/forbidden one.
func (r *Response) resolveErrorPage() {
	if p, ok := mime.CodePath[r.code]; ok {
		r.path = p
	}
}

func (r *Response) addStatusLine(buf *buffer.Buffer) {
	status, ok := mime.CodeStatus[r.code]
	if !ok {
		r.code = 400
		status = mime.CodeStatus[400]
	}
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", r.code, status)
}

func (r *Response) addHeader(buf *buffer.Buffer) {
	buf.AppendString("Connection: ")
	if r.isKeepAlive {
		buf.AppendString("keep-alive\r\n")
		buf.AppendString("Keep-alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("close\r\n")
	}
	fmt.Fprintf(buf, "Content-type: %s\r\n", r.fileType())
}

func (r *Response) addContent(buf *buffer.Buffer) {
	full := r.root + r.path
	fd, err := unix.Open(full, unix.O_RDONLY, 0)
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	r.fileSize = st.Size

	if st.Size == 0 {
		fmt.Fprintf(buf, "Content-length: 0\r\n\r\n")
		return
	}

	mapped, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		r.errorContent(buf, "File NotFound!")
		return
	}
	r.mapped = mapped

	fmt.Fprintf(buf, "Content-length: %d\r\n\r\n", st.Size)
}

// File returns the memory-mapped body, or nil if the response has no
// mapped body (error responses rendered straight into buf instead).
func (r *Response) File() []byte { return r.mapped }

// FileLen returns the size of the mapped body.
func (r *Response) FileLen() int64 { return r.fileSize }

func (r *Response) unmap() {
	if r.mapped != nil {
		unix.Munmap(r.mapped)
		r.mapped = nil
	}
}

// Close releases any held mapping. Safe to call on an unmapped Response.
func (r *Response) Close() {
	r.unmap()
}

func (r *Response) fileType() string {
	idx := strings.LastIndexByte(r.path, '.')
	if idx < 0 {
		return mime.DefaultType
	}
	if t, ok := mime.SuffixType[r.path[idx:]]; ok {
		return t
	}
	return mime.DefaultType
}

func (r *Response) errorContent(buf *buffer.Buffer, message string) {
	status, ok := mime.CodeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	var body strings.Builder
	body.WriteString("<html><title>Error</title>")
	body.WriteString(`<body bgcolor="ffffff">`)
	fmt.Fprintf(&body, "%d : %s\n", r.code, status)
	body.WriteString("<p>" + message + "</p>")
	body.WriteString("<hr><em>reactorweb</em></body></html>")

	fmt.Fprintf(buf, "Content-length: %d\r\n\r\n", body.Len())
	buf.AppendString(body.String())
}
