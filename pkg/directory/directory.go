package directory

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/storage"
)

var (
	// ErrInvalidCallsign rejects strings that cannot be an amateur callsign.
	ErrInvalidCallsign = errors.New("directory: invalid callsign")
	// ErrNotFound is returned when a callsign, binding or user is unknown.
	ErrNotFound = errors.New("directory: not found")
)

// Covers standard amateur formats like N0CALL, VK2ABC, 2E0XYZ, with an
// optional portable suffix (N0CALL/P).
var callsignPattern = regexp.MustCompile(`^[A-Z0-9]{1,3}[0-9][A-Z]{1,4}(/[A-Z0-9]{1,4})?$`)

// MuteAll mutes every group for a subscriber.
const MuteAll = "*"

// Directory is the relay's roster: LXMF subscribers, their group
// subscriptions and mutes, and callsign-to-identity bindings. All state is
// held in memory and written through to the store, so lookups on the hot
// relay path never touch SQLite.
type Directory struct {
	store *storage.Store

	mu            sync.RWMutex
	users         map[lxmf.Identity]struct{}
	subscriptions map[lxmf.Identity]map[string]struct{}
	mutes         map[lxmf.Identity]map[string]struct{}
	bindings      map[string]lxmf.Identity // callsign -> identity
	conversations map[lxmf.Identity]string // identity -> last radio correspondent

	defaultGroups []string
}

// New loads the roster from the store. defaultGroups are the groups a new
// subscriber is joined to automatically.
func New(store *storage.Store, defaultGroups []string) (*Directory, error) {
	d := &Directory{
		store:         store,
		users:         make(map[lxmf.Identity]struct{}),
		subscriptions: make(map[lxmf.Identity]map[string]struct{}),
		mutes:         make(map[lxmf.Identity]map[string]struct{}),
		bindings:      make(map[string]lxmf.Identity),
		conversations: make(map[lxmf.Identity]string),
	}
	for _, g := range defaultGroups {
		d.defaultGroups = append(d.defaultGroups, NormalizeGroup(g))
	}

	users, err := store.Users()
	if err != nil {
		return nil, fmt.Errorf("directory: load users: %w", err)
	}
	for _, u := range users {
		id, err := lxmf.ParseIdentity(u.Identity)
		if err != nil {
			continue
		}
		d.users[id] = struct{}{}
	}

	subs, err := store.Subscriptions()
	if err != nil {
		return nil, fmt.Errorf("directory: load subscriptions: %w", err)
	}
	for identity, groups := range subs {
		id, err := lxmf.ParseIdentity(identity)
		if err != nil {
			continue
		}
		set := make(map[string]struct{}, len(groups))
		for _, g := range groups {
			set[NormalizeGroup(g)] = struct{}{}
		}
		d.subscriptions[id] = set
	}

	mutes, err := store.Mutes()
	if err != nil {
		return nil, fmt.Errorf("directory: load mutes: %w", err)
	}
	for identity, groups := range mutes {
		id, err := lxmf.ParseIdentity(identity)
		if err != nil {
			continue
		}
		set := make(map[string]struct{}, len(groups))
		for _, g := range groups {
			if g == MuteAll {
				set[MuteAll] = struct{}{}
				continue
			}
			set[NormalizeGroup(g)] = struct{}{}
		}
		d.mutes[id] = set
	}

	bindings, err := store.Bindings()
	if err != nil {
		return nil, fmt.Errorf("directory: load bindings: %w", err)
	}
	for _, b := range bindings {
		id, err := lxmf.ParseIdentity(b.Identity)
		if err != nil {
			continue
		}
		d.bindings[strings.ToUpper(b.Callsign)] = id
	}

	return d, nil
}

// NormalizeCallsign upper-cases and validates a callsign.
func NormalizeCallsign(callsign string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(callsign))
	if !callsignPattern.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCallsign, callsign)
	}
	return c, nil
}

// NormalizeGroup upper-cases a group name and ensures the leading @.
func NormalizeGroup(group string) string {
	g := strings.ToUpper(strings.TrimSpace(group))
	if g == "" {
		return g
	}
	if !strings.HasPrefix(g, "@") {
		g = "@" + g
	}
	return g
}

// AddUser registers an LXMF subscriber and joins it to the default groups.
// Returns true when the subscriber is new.
func (d *Directory) AddUser(identity lxmf.Identity) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[identity]; ok {
		return false, nil
	}
	if err := d.store.SaveUser(string(identity)); err != nil {
		return false, err
	}
	d.users[identity] = struct{}{}

	set := make(map[string]struct{}, len(d.defaultGroups))
	for _, g := range d.defaultGroups {
		if err := d.store.Subscribe(string(identity), g); err != nil {
			return false, err
		}
		set[g] = struct{}{}
	}
	d.subscriptions[identity] = set
	return true, nil
}

// RemoveUser drops a subscriber along with its subscriptions and mutes.
func (d *Directory) RemoveUser(identity lxmf.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.users[identity]; !ok {
		return ErrNotFound
	}
	if err := d.store.DeleteUser(string(identity)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	delete(d.users, identity)
	delete(d.subscriptions, identity)
	delete(d.mutes, identity)
	return nil
}

// IsUser reports whether the identity is a registered subscriber.
func (d *Directory) IsUser(identity lxmf.Identity) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[identity]
	return ok
}

// Users returns all subscribers, sorted.
func (d *Directory) Users() []lxmf.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]lxmf.Identity, 0, len(d.users))
	for id := range d.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Join subscribes a registered user to a group.
func (d *Directory) Join(identity lxmf.Identity, group string) error {
	g := NormalizeGroup(group)
	if g == "" {
		return errors.New("directory: empty group")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[identity]; !ok {
		return ErrNotFound
	}
	if err := d.store.Subscribe(string(identity), g); err != nil {
		return err
	}
	if d.subscriptions[identity] == nil {
		d.subscriptions[identity] = make(map[string]struct{})
	}
	d.subscriptions[identity][g] = struct{}{}
	return nil
}

// Leave unsubscribes a user from a group.
func (d *Directory) Leave(identity lxmf.Identity, group string) error {
	g := NormalizeGroup(group)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[identity]; !ok {
		return ErrNotFound
	}
	if err := d.store.Unsubscribe(string(identity), g); err != nil {
		return err
	}
	delete(d.subscriptions[identity], g)
	return nil
}

// Groups returns the groups a subscriber is joined to, sorted.
func (d *Directory) Groups(identity lxmf.Identity) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.subscriptions[identity]))
	for g := range d.subscriptions[identity] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Mute suppresses a group, or everything with MuteAll, for a subscriber.
func (d *Directory) Mute(identity lxmf.Identity, group string) error {
	g := group
	if g != MuteAll {
		g = NormalizeGroup(g)
		if g == "" {
			return errors.New("directory: empty group")
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[identity]; !ok {
		return ErrNotFound
	}
	if err := d.store.Mute(string(identity), g); err != nil {
		return err
	}
	if d.mutes[identity] == nil {
		d.mutes[identity] = make(map[string]struct{})
	}
	d.mutes[identity][g] = struct{}{}
	return nil
}

// Unmute lifts a mute set with Mute.
func (d *Directory) Unmute(identity lxmf.Identity, group string) error {
	g := group
	if g != MuteAll {
		g = NormalizeGroup(g)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[identity]; !ok {
		return ErrNotFound
	}
	if err := d.store.Unmute(string(identity), g); err != nil {
		return err
	}
	delete(d.mutes[identity], g)
	return nil
}

// IsMuted reports whether delivery of a group is suppressed for a subscriber.
func (d *Directory) IsMuted(identity lxmf.Identity, group string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isMutedLocked(identity, NormalizeGroup(group))
}

func (d *Directory) isMutedLocked(identity lxmf.Identity, group string) bool {
	set := d.mutes[identity]
	if set == nil {
		return false
	}
	if _, ok := set[MuteAll]; ok {
		return true
	}
	_, ok := set[group]
	return ok
}

// Subscribers returns the users joined to a group and not muting it, sorted.
func (d *Directory) Subscribers(group string) []lxmf.Identity {
	g := NormalizeGroup(group)

	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]lxmf.Identity, 0)
	for id, subs := range d.subscriptions {
		if _, ok := subs[g]; !ok {
			continue
		}
		if d.isMutedLocked(id, g) {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Recipients returns every subscriber that has not muted everything, sorted.
// This is the distribution list for traffic addressed to the station itself.
func (d *Directory) Recipients() []lxmf.Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]lxmf.Identity, 0, len(d.users))
	for id := range d.users {
		if set := d.mutes[id]; set != nil {
			if _, ok := set[MuteAll]; ok {
				continue
			}
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Bind maps a callsign to an identity. Rebinding either side replaces the
// old pair: the callsign's previous identity is overwritten, and any
// callsign previously bound to this identity is released. An identity holds
// at most one binding at a time.
func (d *Directory) Bind(callsign string, identity lxmf.Identity) error {
	c, err := NormalizeCallsign(callsign)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for prev, id := range d.bindings {
		if id != identity || prev == c {
			continue
		}
		if err := d.store.DeleteBinding(prev); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		delete(d.bindings, prev)
	}
	if err := d.store.SaveBinding(c, string(identity)); err != nil {
		return err
	}
	d.bindings[c] = identity
	return nil
}

// Unbind removes a callsign binding.
func (d *Directory) Unbind(callsign string) error {
	c, err := NormalizeCallsign(callsign)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.bindings[c]; !ok {
		return ErrNotFound
	}
	if err := d.store.DeleteBinding(c); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	delete(d.bindings, c)
	return nil
}

// ResolveCallsign returns the identity bound to a callsign.
func (d *Directory) ResolveCallsign(callsign string) (lxmf.Identity, bool) {
	c := strings.ToUpper(strings.TrimSpace(callsign))
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.bindings[c]
	return id, ok
}

// ResolveIdentity returns the callsign bound to an identity. Bind keeps at
// most one callsign per identity, so the answer is unambiguous.
func (d *Directory) ResolveIdentity(identity lxmf.Identity) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for c, id := range d.bindings {
		if id == identity {
			return c, true
		}
	}
	return "", false
}

// SetConversation records the radio correspondent a subscriber last heard
// from. Conversation state is transient; it is not persisted across restarts.
func (d *Directory) SetConversation(identity lxmf.Identity, callsign string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conversations[identity] = strings.ToUpper(strings.TrimSpace(callsign))
}

// Conversation returns the radio correspondent bound to a subscriber's
// conversation context.
func (d *Directory) Conversation(identity lxmf.Identity) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conversations[identity]
	return c, ok && c != ""
}

// Bindings returns callsign -> identity, sorted by callsign.
func (d *Directory) Bindings() []storage.Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]storage.Binding, 0, len(d.bindings))
	for c, id := range d.bindings {
		out = append(out, storage.Binding{Callsign: c, Identity: string(id)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Callsign < out[j].Callsign })
	return out
}
