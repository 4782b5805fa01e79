package httpparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteContentLength(t *testing.T) {
	var body []byte
	var gotStatus int
	var gotKeepAlive bool
	var completed bool

	p := &Parser{
		OnBody: func(chunk []byte) { body = append(body, chunk...) },
		OnComplete: func(status int, keepAlive bool) {
			completed = true
			gotStatus = status
			gotKeepAlive = keepAlive
		},
	}

	msg := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: keep-alive\r\n\r\nhello"
	n, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	require.True(t, completed, "expected OnComplete to fire")
	assert.Equal(t, 200, gotStatus)
	assert.True(t, gotKeepAlive)
	assert.Equal(t, "hello", string(body))
}

func TestExecuteChunked(t *testing.T) {
	var body []byte
	var completed bool

	p := &Parser{
		OnBody:     func(chunk []byte) { body = append(body, chunk...) },
		OnComplete: func(status int, keepAlive bool) { completed = true },
	}

	msg := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	_, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	require.True(t, completed, "expected OnComplete to fire")
	assert.Equal(t, "hello world", string(body))
}

func TestExecuteNoBodyStatus(t *testing.T) {
	var bodyCalled, completed bool
	p := &Parser{
		OnBody:     func(chunk []byte) { bodyCalled = true },
		OnComplete: func(status int, keepAlive bool) { completed = true },
	}
	msg := "HTTP/1.1 204 No Content\r\nConnection: keep-alive\r\n\r\n"
	_, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	assert.False(t, bodyCalled, "204 must not deliver a body")
	assert.True(t, completed, "expected OnComplete to fire for 204")
}

func TestExecuteIncremental(t *testing.T) {
	var body []byte
	var completed bool
	p := &Parser{
		OnBody:     func(chunk []byte) { body = append(body, chunk...) },
		OnComplete: func(status int, keepAlive bool) { completed = true },
	}

	full := "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nabcd"
	for i := 0; i < len(full); i++ {
		b := []byte{full[i]}
		n, err := p.Execute(b)
		require.NoErrorf(t, err, "Execute byte %d", i)
		require.Equalf(t, 1, n, "byte %d", i)
	}
	require.True(t, completed, "expected completion after feeding full message byte by byte")
	assert.Equal(t, "abcd", string(body))
}

func TestExecuteMalformedStatusLine(t *testing.T) {
	p := &Parser{}
	_, err := p.Execute([]byte("garbage\r\n"))
	assert.Error(t, err, "expected error on malformed status line")
}

func TestResetAllowsReuse(t *testing.T) {
	var completions int
	p := &Parser{OnComplete: func(status int, keepAlive bool) { completions++ }}

	msg := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	_, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	p.Reset()
	_, err = p.Execute([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, 2, completions)
}

func TestExecuteConnectionClose(t *testing.T) {
	var gotKeepAlive bool
	var got bool
	p := &Parser{OnComplete: func(status int, keepAlive bool) { got = true; gotKeepAlive = keepAlive }}
	msg := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	_, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	require.True(t, got, "expected completion")
	assert.False(t, gotKeepAlive, "expected keepAlive=false after Connection: close")
}

func TestExecuteHeaderCallbacks(t *testing.T) {
	var fields, values []string
	p := &Parser{
		OnHeaderField: func(name string) { fields = append(fields, name) },
		OnHeaderValue: func(name, value string) { values = append(values, name+"="+value) },
	}
	msg := "HTTP/1.1 200 OK\r\nX-Foo: bar\r\nContent-Length: 0\r\n\r\n"
	_, err := p.Execute([]byte(msg))
	require.NoError(t, err)
	assert.Contains(t, fields, "X-Foo")
	assert.Contains(t, values, "X-Foo=bar")
}
