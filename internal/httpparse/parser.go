// Package httpparse implements the incremental HTTP/1.1 response parser
// spec §2 item 4 and §4.3 treat as an external collaborator specified
// only by its callback contract: feed it bytes as they arrive off the
// socket, and it calls back on header fields/values, body chunks, and
// message completion — the same shape as the joyent/http-parser state
// machine wrk.c drives (see original_source/src/wrk.c's header_field/
// header_value/body/chunk_complete callbacks), reimplemented directly in
// Go rather than wrapped, since spec.md never pins the parser to a
// specific C library.
package httpparse

import (
	"bytes"
	"fmt"
	"strconv"
)

type state int

const (
	stStatusLine state = iota
	stHeaderField
	stHeaderValue
	stHeadersDone
	stBody
	stChunkSize
	stChunkData
	stChunkCRLF
	stTrailers
	stComplete
)

// Parser is a single-message HTTP/1.1 response parser. It is not
// reentrant across messages: call Reset before feeding the next
// response on a reused (keep-alive) connection.
type Parser struct {
	OnHeaderField func(name string)
	OnHeaderValue func(name, value string)
	OnBody        func(chunk []byte)
	OnComplete    func(status int, shouldKeepAlive bool)

	state        state
	buf          []byte
	statusCode   int
	curField     string
	contentLen   int64
	haveLen      bool
	chunked      bool
	keepAlive    bool
	httpMinor    int
	bodyRead     int64
	chunkRemain  int64
	noBodyStatus bool // 1xx/204/304: no body regardless of headers
}

// Reset prepares p to parse the next response on the same connection.
func (p *Parser) Reset() {
	*p = Parser{
		OnHeaderField: p.OnHeaderField,
		OnHeaderValue: p.OnHeaderValue,
		OnBody:        p.OnBody,
		OnComplete:    p.OnComplete,
		keepAlive:     true,
	}
}

// Execute feeds data into the parser, returning the number of bytes
// consumed and an error on malformed input. A short consume count (less
// than len(data)) with a nil error only happens once OnComplete has
// fired for this message; the caller's read-parse cycle (spec §4.3)
// treats any parse error as the connection's read-path ERROR.
func (p *Parser) Execute(data []byte) (int, error) {
	consumed := 0
	for consumed < len(data) {
		if p.state == stComplete {
			return consumed, nil
		}
		n, err := p.step(data[consumed:])
		if err != nil {
			return consumed, err
		}
		if n == 0 {
			break // need more data
		}
		consumed += n
	}
	return consumed, nil
}

func (p *Parser) step(data []byte) (int, error) {
	switch p.state {
	case stStatusLine:
		return p.parseStatusLine(data)
	case stHeaderField, stHeaderValue, stHeadersDone:
		return p.parseHeaderLine(data)
	case stBody:
		return p.parseBody(data)
	case stChunkSize:
		return p.parseChunkSize(data)
	case stChunkData:
		return p.parseChunkData(data)
	case stChunkCRLF:
		return p.parseChunkCRLF(data)
	case stTrailers:
		return p.parseTrailerLine(data)
	default:
		return 0, fmt.Errorf("httpparse: invalid state %d", p.state)
	}
}

func findCRLF(data []byte) int {
	return bytes.Index(data, []byte("\r\n"))
}

func (p *Parser) parseStatusLine(data []byte) (int, error) {
	i := findCRLF(data)
	if i < 0 {
		return 0, nil
	}
	line := data[:i]
	// "HTTP/1.1 200 OK"
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return 0, fmt.Errorf("httpparse: malformed status line %q", line)
	}
	ver := parts[0]
	if !bytes.HasPrefix(ver, []byte("HTTP/1.")) {
		return 0, fmt.Errorf("httpparse: unsupported version %q", ver)
	}
	p.httpMinor = int(ver[len(ver)-1] - '0')
	p.keepAlive = p.httpMinor >= 1

	code, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return 0, fmt.Errorf("httpparse: bad status code %q: %w", parts[1], err)
	}
	p.statusCode = code
	p.noBodyStatus = (code >= 100 && code < 200) || code == 204 || code == 304

	p.state = stHeaderField
	return i + 2, nil
}

func (p *Parser) parseHeaderLine(data []byte) (int, error) {
	i := findCRLF(data)
	if i < 0 {
		return 0, nil
	}
	line := data[:i]
	if len(line) == 0 {
		return i + 2, p.finishHeaders()
	}
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return 0, fmt.Errorf("httpparse: malformed header line %q", line)
	}
	name := string(bytes.TrimSpace(line[:colon]))
	value := string(bytes.TrimSpace(line[colon+1:]))

	if p.OnHeaderField != nil {
		p.OnHeaderField(name)
	}
	if p.OnHeaderValue != nil {
		p.OnHeaderValue(name, value)
	}
	p.applyHeader(name, value)
	return i + 2, nil
}

func (p *Parser) applyHeader(name, value string) {
	switch canonicalLower(name) {
	case "content-length":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.contentLen = n
			p.haveLen = true
		}
	case "transfer-encoding":
		if canonicalLower(value) == "chunked" {
			p.chunked = true
		}
	case "connection":
		switch canonicalLower(value) {
		case "close":
			p.keepAlive = false
		case "keep-alive":
			p.keepAlive = true
		}
	}
}

func canonicalLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func (p *Parser) finishHeaders() error {
	switch {
	case p.noBodyStatus:
		return p.finishMessage()
	case p.chunked:
		p.state = stChunkSize
	case p.haveLen:
		if p.contentLen == 0 {
			return p.finishMessage()
		}
		p.state = stBody
	default:
		// No Content-Length, no chunking: body runs to connection close.
		// wrk.c's http_parser reports this via on_headers_complete's
		// return value; we model it as "keep-alive forced false, read
		// until EOF" and let the connection's close observation drive
		// completion (spec §4.3's read-path ERROR on peer close doubles
		// as end-of-body here).
		p.keepAlive = false
		p.state = stBody
	}
	return nil
}

func (p *Parser) parseBody(data []byte) (int, error) {
	if p.haveLen {
		remain := p.contentLen - p.bodyRead
		n := int64(len(data))
		if n > remain {
			n = remain
		}
		if n > 0 && p.OnBody != nil {
			p.OnBody(data[:n])
		}
		p.bodyRead += n
		if p.bodyRead >= p.contentLen {
			return int(n), p.finishMessage()
		}
		return int(n), nil
	}
	// Unbounded body: consume everything offered, never completes until
	// the connection closes.
	if len(data) > 0 && p.OnBody != nil {
		p.OnBody(data)
	}
	return len(data), nil
}

func (p *Parser) parseChunkSize(data []byte) (int, error) {
	i := findCRLF(data)
	if i < 0 {
		return 0, nil
	}
	line := data[:i]
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	size, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("httpparse: bad chunk size %q: %w", line, err)
	}
	p.chunkRemain = size
	if size == 0 {
		p.state = stTrailers
	} else {
		p.state = stChunkData
	}
	return i + 2, nil
}

func (p *Parser) parseChunkData(data []byte) (int, error) {
	n := int64(len(data))
	if n > p.chunkRemain {
		n = p.chunkRemain
	}
	if n > 0 && p.OnBody != nil {
		p.OnBody(data[:n])
	}
	p.chunkRemain -= n
	if p.chunkRemain == 0 {
		p.state = stChunkCRLF
	}
	return int(n), nil
}

func (p *Parser) parseChunkCRLF(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, nil
	}
	if data[0] != '\r' || data[1] != '\n' {
		return 0, fmt.Errorf("httpparse: malformed chunk terminator")
	}
	p.state = stChunkSize
	return 2, nil
}

func (p *Parser) parseTrailerLine(data []byte) (int, error) {
	i := findCRLF(data)
	if i < 0 {
		return 0, nil
	}
	if i == 0 {
		return 2, p.finishMessage()
	}
	return i + 2, nil // trailer headers are consumed and ignored
}

func (p *Parser) finishMessage() error {
	p.state = stComplete
	if p.OnComplete != nil {
		p.OnComplete(p.statusCode, p.keepAlive)
	}
	return nil
}

// StatusCode returns the parsed status line's code, valid once the
// status line has been consumed.
func (p *Parser) StatusCode() int { return p.statusCode }

// Done reports whether OnComplete has fired for the current message.
func (p *Parser) Done() bool { return p.state == stComplete }
