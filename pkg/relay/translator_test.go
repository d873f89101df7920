package relay

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/storage"
)

const (
	idOne = lxmf.Identity("a1b2c3d4e5f60718293a4b5c6d7e8f90")
	idTwo = lxmf.Identity("00ff00ff00ff00ff00ff00ff00ff00ff")
)

func newTestTranslator(t *testing.T) (*Translator, *directory.Directory) {
	t.Helper()
	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir, err := directory.New(store, nil)
	require.NoError(t, err)
	return NewTranslator(dir, []string{"@SOS"}, 40), dir
}

func radioInbound(from, to, text string) bus.InboundMessage {
	kind := bus.PeerDirect
	if strings.HasPrefix(to, "@") {
		kind = bus.PeerGroup
	}
	return bus.InboundMessage{
		Channel:  "js8call",
		SenderID: from,
		Target:   to,
		Content:  text,
		Peer:     bus.Peer{Kind: kind, ID: to},
	}
}

func TestClassify(t *testing.T) {
	tr, _ := newTestTranslator(t)

	rm := tr.Classify(radioInbound("w1aw", "N0CALL", "hello"))
	require.NotNil(t, rm)
	assert.Equal(t, TrafficDirect, rm.Kind)
	assert.Equal(t, "W1AW", rm.From)
	assert.Equal(t, "N0CALL", rm.To)

	rm = tr.Classify(radioInbound("W1AW", "@HAMNET", "net check"))
	require.NotNil(t, rm)
	assert.Equal(t, TrafficGroup, rm.Kind)
	assert.Equal(t, "@HAMNET", rm.Group)

	rm = tr.Classify(radioInbound("W1AW", "@SOS", "need assistance"))
	require.NotNil(t, rm)
	assert.Equal(t, TrafficUrgent, rm.Kind)

	assert.Nil(t, tr.Classify(radioInbound("W1AW", "N0CALL", "   ")))
	assert.Nil(t, tr.Classify(radioInbound("", "N0CALL", "hello")))
}

func TestToMeshDirectBound(t *testing.T) {
	tr, dir := newTestTranslator(t)
	_, err := dir.AddUser(idOne)
	require.NoError(t, err)
	require.NoError(t, dir.Bind("N0CALL", idOne))

	rm := tr.Classify(radioInbound("W1AW", "N0CALL", "hello"))
	deliveries, err := tr.ToMesh(rm, "KD9XYZ")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, idOne, deliveries[0].Identity)
	assert.Equal(t, "W1AW: hello", deliveries[0].Content)

	// The delivery opens a conversation, so the reply needs no prefix.
	call, ok := dir.Conversation(idOne)
	require.True(t, ok)
	assert.Equal(t, "W1AW", call)
}

func TestToMeshUnknownRecipient(t *testing.T) {
	tr, _ := newTestTranslator(t)

	rm := tr.Classify(radioInbound("W1AW", "N0CALL", "hello"))
	_, err := tr.ToMesh(rm, "KD9XYZ")
	assert.ErrorIs(t, err, ErrUnknownRecipient)
}

func TestToMeshStationAddressedFansOut(t *testing.T) {
	tr, dir := newTestTranslator(t)
	_, err := dir.AddUser(idOne)
	require.NoError(t, err)
	_, err = dir.AddUser(idTwo)
	require.NoError(t, err)
	require.NoError(t, dir.Mute(idTwo, directory.MuteAll))

	rm := tr.Classify(radioInbound("W1AW", "KD9XYZ", "calling the relay"))
	deliveries, err := tr.ToMesh(rm, "KD9XYZ")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, idOne, deliveries[0].Identity)
}

func TestToMeshGroupFansOutToSubscribers(t *testing.T) {
	tr, dir := newTestTranslator(t)
	_, err := dir.AddUser(idOne)
	require.NoError(t, err)
	_, err = dir.AddUser(idTwo)
	require.NoError(t, err)
	require.NoError(t, dir.Join(idOne, "@HAMNET"))
	require.NoError(t, dir.Join(idTwo, "@HAMNET"))
	require.NoError(t, dir.Mute(idTwo, "@HAMNET"))

	msg := radioInbound("W1AW", "@HAMNET", "net check")
	msg.Metadata = map[string]string{"snr": "-8"}
	rm := tr.Classify(msg)

	deliveries, err := tr.ToMesh(rm, "KD9XYZ")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, idOne, deliveries[0].Identity)
	assert.Equal(t, "[@HAMNET] W1AW: net check (SNR -8)", deliveries[0].Content)
}

func TestToMeshUrgentMarksContent(t *testing.T) {
	tr, dir := newTestTranslator(t)
	_, err := dir.AddUser(idOne)
	require.NoError(t, err)
	require.NoError(t, dir.Join(idOne, "@SOS"))

	rm := tr.Classify(radioInbound("W1AW", "@SOS", "need assistance"))
	deliveries, err := tr.ToMesh(rm, "KD9XYZ")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "[URGENT @SOS] W1AW: need assistance", deliveries[0].Content)
}

func TestToRadioExplicitTargets(t *testing.T) {
	tr, _ := newTestTranslator(t)

	cmd, err := tr.ToRadio(idOne, "@hamnet evening net at 0200z")
	require.NoError(t, err)
	assert.Equal(t, "@HAMNET", cmd.Destination)
	assert.Equal(t, "evening net at 0200z", cmd.Text)

	cmd, err = tr.ToRadio(idOne, ">w1aw got your message")
	require.NoError(t, err)
	assert.Equal(t, "W1AW", cmd.Destination)
	assert.Equal(t, "got your message", cmd.Text)

	_, err = tr.ToRadio(idOne, ">not_a_call hello")
	assert.ErrorIs(t, err, directory.ErrInvalidCallsign)
}

func TestToRadioConversationFallback(t *testing.T) {
	tr, dir := newTestTranslator(t)

	_, err := tr.ToRadio(idOne, "hello out there")
	assert.ErrorIs(t, err, ErrUnresolvedDestination)

	dir.SetConversation(idOne, "W1AW")
	cmd, err := tr.ToRadio(idOne, "hello out there")
	require.NoError(t, err)
	assert.Equal(t, "W1AW", cmd.Destination)
	assert.Equal(t, "hello out there", cmd.Text)
}

// A directed message to a bound callsign followed by the recipient's
// unprefixed reply returns to the original sender.
func TestRoundTripPreservesPairing(t *testing.T) {
	tr, dir := newTestTranslator(t)
	_, err := dir.AddUser(idOne)
	require.NoError(t, err)
	require.NoError(t, dir.Bind("N0CALL", idOne))

	rm := tr.Classify(radioInbound("W1AW", "N0CALL", "hello"))
	deliveries, err := tr.ToMesh(rm, "KD9XYZ")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	cmd, err := tr.ToRadio(deliveries[0].Identity, "hello back")
	require.NoError(t, err)
	assert.Equal(t, "W1AW", cmd.Destination)
}

func TestTruncateNeverSplits(t *testing.T) {
	tr, _ := newTestTranslator(t)

	short := "fits fine"
	assert.Equal(t, short, tr.Truncate(short))

	long := strings.Repeat("x", 100)
	got := tr.Truncate(long)
	assert.LessOrEqual(t, len([]rune(got)), 40)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
}
