package e2e

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/channels"
	"github.com/hamlink/js8relay/pkg/config"
	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/relay"
	"github.com/hamlink/js8relay/pkg/storage"
)

const (
	botIdentity  = lxmf.Identity("beefbeefbeefbeefbeefbeefbeefbeef")
	userIdentity = lxmf.Identity("a1b2c3d4e5f60718293a4b5c6d7e8f90")
)

// harness wires the full relay against a fake JS8Call TCP server and an
// in-memory mesh transport.
type harness struct {
	transport   *lxmf.MemoryTransport
	radioConn   net.Conn
	radioReader *bufio.Reader
	dir         *directory.Directory
	cancel      context.CancelFunc
	manager     *channels.Manager
}

func startHarness(t *testing.T) *harness {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := config.DefaultConfig()
	cfg.JS8Call.Host = "127.0.0.1"
	cfg.JS8Call.Port = ln.Addr().(*net.TCPAddr).Port

	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir, err := directory.New(store, cfg.Bot.DefaultGroups)
	require.NoError(t, err)

	transport := lxmf.NewMemoryTransport(botIdentity)
	msgBus := bus.NewMessageBus()
	t.Cleanup(msgBus.Close)

	radio := channels.NewJS8CallChannel(cfg.JS8Call, msgBus, nil)
	mesh := channels.NewLXMFChannel(transport, msgBus, nil)

	orch := relay.NewOrchestrator(cfg, msgBus, dir, store, radio, botIdentity)

	manager := channels.NewManager(msgBus)
	manager.Register(radio)
	manager.Register(mesh)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, manager.StartAll(ctx))
	go orch.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	h := &harness{
		transport:   transport,
		radioConn:   conn,
		radioReader: bufio.NewReader(conn),
		dir:         dir,
		cancel:      cancel,
		manager:     manager,
	}
	t.Cleanup(func() {
		cancel()
		manager.StopAll(context.Background())
	})

	// Drain the STATION.GET_CALLSIGN query issued on connect.
	line := h.readRadioLine(t)
	require.Contains(t, line, "STATION.GET_CALLSIGN")

	return h
}

func (h *harness) injectRadio(t *testing.T, line string) {
	t.Helper()
	_, err := h.radioConn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (h *harness) readRadioLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, h.radioConn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := h.radioReader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, h.radioConn.SetReadDeadline(time.Time{}))
	return line
}

func TestGroupMessageReachesSubscriber(t *testing.T) {
	h := startHarness(t)

	_, err := h.dir.AddUser(userIdentity)
	require.NoError(t, err)

	h.injectRadio(t, `{"type":"RX.DIRECTED","value":"W1AW: @HAMNET net check","params":{"FROM":"W1AW","TO":"@HAMNET","TEXT":"net check","SNR":-7}}`)

	require.Eventually(t, func() bool {
		return len(h.transport.Sent()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	sent := h.transport.Sent()[0]
	assert.Equal(t, userIdentity, sent.Destination)
	assert.Contains(t, sent.Content, "W1AW: net check")
	assert.Contains(t, sent.Content, "SNR -7")
}

func TestMeshMessageTransmitsOnRadio(t *testing.T) {
	h := startHarness(t)

	_, err := h.dir.AddUser(userIdentity)
	require.NoError(t, err)

	h.transport.Inject(userIdentity, "@hamnet evening net at 0200z")

	line := h.readRadioLine(t)
	assert.Contains(t, line, "TX.SEND_MESSAGE")
	assert.Contains(t, line, "@HAMNET evening net at 0200z")
}

func TestCommandRoundTripOverMesh(t *testing.T) {
	h := startHarness(t)

	h.transport.Inject(userIdentity, "/add")

	require.Eventually(t, func() bool {
		return len(h.transport.Sent()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	reply := h.transport.Sent()[0]
	assert.Equal(t, userIdentity, reply.Destination)
	assert.Contains(t, reply.Content, "Welcome")
	assert.True(t, h.dir.IsUser(userIdentity))
}

func TestDirectedTrafficFollowsBinding(t *testing.T) {
	h := startHarness(t)

	_, err := h.dir.AddUser(userIdentity)
	require.NoError(t, err)
	require.NoError(t, h.dir.Bind("N0CALL", userIdentity))

	h.injectRadio(t, `{"type":"RX.DIRECTED","value":"W1AW: N0CALL hello","params":{"FROM":"W1AW","TO":"N0CALL","TEXT":"hello"}}`)

	require.Eventually(t, func() bool {
		return len(h.transport.Sent()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, userIdentity, h.transport.Sent()[0].Destination)

	// The unprefixed reply goes back to W1AW.
	h.transport.Inject(userIdentity, "hello back")
	line := h.readRadioLine(t)
	assert.Contains(t, line, "TX.SEND_MESSAGE")
	assert.True(t, strings.Contains(line, "W1AW hello back"))
}
