package js8call

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal stand-in for the JS8Call TCP API.
type fakeServer struct {
	ln net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return &fakeServer{ln: ln}
}

func (s *fakeServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeServer) acceptOne(t *testing.T) net.Conn {
	t.Helper()
	conn, err := s.ln.Accept()
	require.NoError(t, err)
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startClient(t *testing.T, srv *fakeServer, opts Options) *Client {
	t.Helper()
	opts.Host = "127.0.0.1"
	opts.Port = srv.port()
	if opts.BackoffMin == 0 {
		opts.BackoffMin = 10 * time.Millisecond
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 50 * time.Millisecond
	}
	c := NewClient(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientReceivesEvents(t *testing.T) {
	srv := newFakeServer(t)
	c := startClient(t, srv, Options{})

	require.NoError(t, c.Start(context.Background()))
	conn := srv.acceptOne(t)

	_, err := conn.Write([]byte(`{"type":"RX.DIRECTED","value":"W1AW: hi","params":{"FROM":"W1AW","TEXT":"hi"}}` + "\n"))
	require.NoError(t, err)

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventRxDirected, ev.Type)
		assert.Equal(t, "W1AW", ev.From())
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	assert.True(t, c.Connected())
}

func TestClientSkipsMalformedLines(t *testing.T) {
	srv := newFakeServer(t)
	c := startClient(t, srv, Options{})

	require.NoError(t, c.Start(context.Background()))
	conn := srv.acceptOne(t)

	_, err := conn.Write([]byte("this is not json\n{\"type\":\"PING\",\"value\":\"\"}\n"))
	require.NoError(t, err)

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventPing, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event after malformed line was not delivered")
	}
}

func TestClientSendWritesOneLine(t *testing.T) {
	srv := newFakeServer(t)
	c := startClient(t, srv, Options{})

	require.NoError(t, c.Start(context.Background()))
	conn := srv.acceptOne(t)

	require.NoError(t, c.Send(SendMessageCommand("N0CALL", "hello")))

	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "TX.SEND_MESSAGE")
	assert.Contains(t, line, "N0CALL hello")
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	srv := newFakeServer(t)

	var mu sync.Mutex
	connects := 0
	c := startClient(t, srv, Options{
		OnConnect: func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
	})

	require.NoError(t, c.Start(context.Background()))
	first := srv.acceptOne(t)
	_ = first.Close()

	second := srv.acceptOne(t)
	_, err := second.Write([]byte(`{"type":"PING","value":""}` + "\n"))
	require.NoError(t, err)

	select {
	case ev := <-c.Events():
		assert.Equal(t, EventPing, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no event after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connects, 2)
}

func TestClientInitialDialFailure(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := NewClient(Options{Host: "127.0.0.1", Port: port, DialTimeout: 200 * time.Millisecond})
	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), strconv.Itoa(port)))
	_ = c.Close()
}

func TestClientSendWhileDisconnected(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(Options{Host: "127.0.0.1", Port: srv.port()})

	assert.ErrorIs(t, c.Send(PingCommand()), ErrNotConnected)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(PingCommand()), ErrClosed)
}

func TestCloseTerminatesEventChannel(t *testing.T) {
	srv := newFakeServer(t)
	c := startClient(t, srv, Options{})

	require.NoError(t, c.Start(context.Background()))
	srv.acceptOne(t)
	require.NoError(t, c.Close())

	select {
	case _, open := <-c.Events():
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("event channel not closed")
	}
}
