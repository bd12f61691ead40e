package duvhttp

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emx-mail/mailcore/internal/xstream"
)

// serveOnce accepts exactly one connection on l and, for each request
// line it reads, writes back the next response in responses in order,
// then closes the connection once responses are exhausted.
func serveOnce(t *testing.T, l net.Listener, responses []string) {
	t.Helper()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for _, resp := range responses {
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if line == "\r\n" {
					break
				}
			}
			if _, err := conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()
}

func readAll(t *testing.T, rs xstream.RStream) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64)
	done := make(chan struct{})
	var rerr error
	var step func()
	step = func() {
		rs.Read(buf, func(n int, err error) {
			out = append(out, buf[:n]...)
			if err != nil {
				rerr = err
				close(done)
				return
			}
			if n == 0 {
				close(done)
				return
			}
			step()
		})
	}
	step()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading body")
	}
	if rerr != nil && rerr != io.EOF {
		t.Fatalf("unexpected read error: %v", rerr)
	}
	return out
}

func TestClientContentLengthBody(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	serveOnce(t, l, []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello",
	})

	c := NewClient()
	req, err := NewRequest("GET", "http://"+addr.String()+"/")
	if err != nil {
		t.Fatal(err)
	}
	var ready sync.WaitGroup
	ready.Add(1)
	var readyErr error
	c.Do(req, func(err error) {
		readyErr = err
		ready.Done()
	})
	waitOrTimeout(t, &ready)
	if readyErr != nil {
		t.Fatalf("Do failed: %v", readyErr)
	}
	if req.Status != 200 {
		t.Fatalf("status = %d", req.Status)
	}
	if req.LengthType != LengthContentLength {
		t.Fatalf("length type = %v", req.LengthType)
	}
	body := readAll(t, req.BodyStream)
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
}

func TestClientChunkedBody(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	serveOnce(t, l, []string{
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
	})

	c := NewClient()
	req, err := NewRequest("GET", "http://"+addr.String()+"/")
	if err != nil {
		t.Fatal(err)
	}
	var ready sync.WaitGroup
	ready.Add(1)
	var readyErr error
	c.Do(req, func(err error) {
		readyErr = err
		ready.Done()
	})
	waitOrTimeout(t, &ready)
	if readyErr != nil {
		t.Fatalf("Do failed: %v", readyErr)
	}
	if req.LengthType != LengthChunked {
		t.Fatalf("length type = %v", req.LengthType)
	}
	body := readAll(t, req.BodyStream)
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
}

func TestClientConflictingContentLengthChunked(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	serveOnce(t, l, []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
	})

	c := NewClient()
	req, err := NewRequest("GET", "http://"+addr.String()+"/")
	if err != nil {
		t.Fatal(err)
	}
	var ready sync.WaitGroup
	ready.Add(1)
	var readyErr error
	c.Do(req, func(err error) {
		readyErr = err
		ready.Done()
	})
	waitOrTimeout(t, &ready)
	if readyErr == nil {
		t.Fatal("expected error for conflicting framing headers")
	}
	if !strings.Contains(readyErr.Error(), "chunked") {
		t.Fatalf("unexpected error: %v", readyErr)
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
	}
}
