// Package httpcore implements the incremental HTTP/1.1 request parser,
// the filesystem-backed response builder, and the per-connection state
// machine that ties both to reactor-driven read/write cycles. Grounded
// on the original source's http/httprequest.cpp, httpresponse.cpp, and
// httpconn.cpp.
package httpcore

import (
	"bytes"
	"strings"

	"github.com/searchktools/reactorweb/core/buffer"
)

// ParseState is the parser's four-state machine.
type ParseState int

const (
	StateRequestLine ParseState = iota
	StateHeaders
	StateBody
	StateFinish
)

// Parser incrementally parses a request out of a Buffer, restartable via
// Init. A single Parser instance is reused across keep-alive requests on
// the same connection.
type Parser struct {
	state   ParseState
	Method  string
	Path    string
	Version string
	Body    string
	Headers map[string]string
}

// NewParser returns an initialized Parser.
func NewParser() *Parser {
	p := &Parser{}
	p.Init()
	return p
}

// Init resets the parser to begin a new request.
func (p *Parser) Init() {
	p.state = StateRequestLine
	p.Method = ""
	p.Path = ""
	p.Version = ""
	p.Body = ""
	p.Headers = make(map[string]string)
}

var crlf = []byte("\r\n")

// Parse consumes complete lines out of buf until it runs out of
// buffered data or reaches StateFinish. It returns true when the request
// so far is well-formed (including "not enough data yet"), and false
// only when the request line itself fails to parse, matching
// spec.md §4.F's malformed-vs-incomplete distinction exactly.
func (p *Parser) Parse(buf *buffer.Buffer) bool {
	for buf.ReadableLen() > 0 && p.state != StateFinish {
		readable := buf.Peek()
		idx := bytes.Index(readable, crlf)
		if idx < 0 {
			// Await more bytes; nothing retrieved yet.
			return true
		}
		line := string(readable[:idx])

		switch p.state {
		case StateRequestLine:
			if !p.parseRequestLine(line) {
				return false
			}
			p.canonicalizePath()
		case StateHeaders:
			if !p.parseHeader(line) {
				p.state = StateBody
			}
			// Mirrors the original's check of the *still untouched*
			// readable length at this point in the loop: if this line
			// (plus its CRLF) is effectively all that's left, there's
			// no body line to read, so skip BODY and finish outright.
			if buf.ReadableLen() <= 2 {
				p.state = StateFinish
			}
		case StateBody:
			p.Body = line
			p.state = StateFinish
		}

		buf.Retrieve(idx + 2) // advance past the line and its CRLF
	}
	return true
}

// parseRequestLine matches "METHOD PATH HTTP/VERSION" with no regexp,
// following the corpus's preference (core/http/parser.go,
// core/http/request.go) for manual byte scanning on the hot path.
func (p *Parser) parseRequestLine(line string) bool {
	first := strings.IndexByte(line, ' ')
	if first < 0 {
		return false
	}
	rest := line[first+1:]
	second := strings.IndexByte(rest, ' ')
	if second < 0 {
		return false
	}
	method := line[:first]
	path := rest[:second]
	protoVersion := rest[second+1:]

	const prefix = "HTTP/"
	if !strings.HasPrefix(protoVersion, prefix) {
		return false
	}
	version := protoVersion[len(prefix):]
	if method == "" || path == "" || version == "" {
		return false
	}

	p.Method = method
	p.Path = path
	p.Version = version
	p.state = StateHeaders
	return true
}

// parseHeader matches "KEY: VALUE" (colon optionally followed by one
// space). Returns false on any line that doesn't match, including the
// empty terminator line, conflating malformed headers with end-of-
// headers exactly as spec.md §9's open question documents.
func (p *Parser) parseHeader(line string) bool {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return false
	}
	key := line[:colon]
	value := line[colon+1:]
	value = strings.TrimPrefix(value, " ")
	p.Headers[key] = value
	return true
}

// canonicalizePath rewrites the fixed set of well-known paths before the
// filesystem lookup in the response builder.
func (p *Parser) canonicalizePath() {
	switch p.Path {
	case "/":
		p.Path = "/welcome.html"
	case "/400", "/403", "/404":
		p.Path += ".html"
	}
}

// IsKeepAlive reports whether the request asked to keep the connection
// open: Connection: keep-alive, and HTTP/1.1.
func (p *Parser) IsKeepAlive() bool {
	return p.Headers["Connection"] == "keep-alive" && p.Version == "1.1"
}
