package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/config"
	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/logger"
	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/storage"
)

// StationInfo exposes the radio side's live state to the relay loop.
type StationInfo interface {
	Callsign() string
	Connected() bool
}

// Orchestrator is the relay loop. It consumes inbound bus traffic from both
// channels sequentially, so routing decisions never race, and publishes
// outbound traffic for the channel manager to deliver.
type Orchestrator struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	dir        *directory.Directory
	store      *storage.Store
	translator *Translator
	registry   *Registry
	station    StationInfo

	admins       map[lxmf.Identity]struct{}
	blockedWords []string
	botIdentity  lxmf.Identity
	startedAt    time.Time
}

func NewOrchestrator(
	cfg *config.Config,
	b *bus.MessageBus,
	dir *directory.Directory,
	store *storage.Store,
	station StationInfo,
	botIdentity lxmf.Identity,
) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		bus:         b,
		dir:         dir,
		store:       store,
		translator:  NewTranslator(dir, cfg.JS8Call.UrgentGroups, cfg.JS8Call.MaxTextLength),
		registry:    NewRegistry(cfg.Bot.CommandPrefix),
		station:     station,
		admins:      make(map[lxmf.Identity]struct{}),
		botIdentity: botIdentity,
		startedAt:   time.Now(),
	}

	for _, a := range cfg.Bot.Admins {
		if id, err := lxmf.ParseIdentity(a); err == nil {
			o.admins[id] = struct{}{}
		} else {
			logger.WarnCF("relay", "Ignoring malformed admin identity", map[string]interface{}{
				"identity": a,
			})
		}
	}
	for _, w := range cfg.JS8Call.BlockedWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			o.blockedWords = append(o.blockedWords, w)
		}
	}

	o.registerCommands()
	return o
}

// Run consumes inbound messages until the context ends or the bus closes.
func (o *Orchestrator) Run(ctx context.Context) {
	logger.InfoC("relay", "Relay loop started")
	for {
		msg, ok := o.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("relay", "Relay loop stopped")
			return
		}

		switch msg.Channel {
		case "js8call":
			o.handleRadio(ctx, msg)
		case "lxmf":
			o.handleMesh(ctx, msg)
		default:
			logger.WarnCF("relay", "Inbound message from unknown channel", map[string]interface{}{
				"channel": msg.Channel,
			})
		}
	}
}

// IsAdmin reports whether the identity is a configured administrator.
func (o *Orchestrator) IsAdmin(identity lxmf.Identity) bool {
	_, ok := o.admins[identity]
	return ok
}

// NotifyDegraded tells the administrators the radio link is down and staying
// down. Called from the reconnect path once per outage.
func (o *Orchestrator) NotifyDegraded(err error) {
	logger.ErrorCF("relay", "Radio link degraded", map[string]interface{}{
		"error": err.Error(),
	})
	o.notifyAdmins(context.Background(),
		"Relay degraded: JS8Call unreachable ("+err.Error()+"). Reconnecting in the background.")
}

func (o *Orchestrator) handleRadio(ctx context.Context, msg bus.InboundMessage) {
	rm := o.translator.Classify(msg)
	if rm == nil {
		return
	}
	if word, blocked := o.isBlocked(rm.Text); blocked {
		logger.InfoCF("relay", "Dropping message with blocked word", map[string]interface{}{
			"from": rm.From,
			"word": word,
		})
		return
	}

	o.persistRadio(rm)

	deliveries, err := o.translator.ToMesh(rm, o.station.Callsign())
	if err != nil {
		if errors.Is(err, ErrUnknownRecipient) {
			logger.WarnCF("relay", "No binding for directed message", map[string]interface{}{
				"from": rm.From,
				"to":   rm.To,
			})
			return
		}
		logger.ErrorCF("relay", "Routing failed", map[string]interface{}{
			"from":  rm.From,
			"error": err.Error(),
		})
		return
	}

	for _, d := range deliveries {
		o.sendTo(ctx, d.Identity, d.Content)
	}
	logger.DebugCF("relay", "Radio message relayed", map[string]interface{}{
		"from":       rm.From,
		"kind":       rm.Kind.String(),
		"recipients": len(deliveries),
	})
}

func (o *Orchestrator) handleMesh(ctx context.Context, msg bus.InboundMessage) {
	sender, err := lxmf.ParseIdentity(msg.SenderID)
	if err != nil {
		logger.WarnCF("relay", "Mesh message with malformed source", map[string]interface{}{
			"source": msg.SenderID,
		})
		return
	}

	if o.registry.IsCommand(msg.Content) {
		reply, err := o.registry.Dispatch(ctx, sender, o.IsAdmin(sender), msg.Content)
		if err != nil {
			logger.ErrorCF("relay", "Command failed", map[string]interface{}{
				"sender": sender.Short(),
				"error":  err.Error(),
			})
			reply = "Command failed, see relay log."
		}
		if reply != "" {
			o.sendTo(ctx, sender, reply)
		}
		return
	}

	if !o.dir.IsUser(sender) {
		o.sendTo(ctx, sender,
			"You are not subscribed yet. Send "+o.cfg.Bot.CommandPrefix+"add to join, or "+
				o.cfg.Bot.CommandPrefix+"help for commands.")
		return
	}

	cmd, err := o.translator.ToRadio(sender, msg.Content)
	if err != nil {
		if errors.Is(err, ErrUnresolvedDestination) || errors.Is(err, directory.ErrInvalidCallsign) {
			o.sendTo(ctx, sender,
				"Cannot route that: no destination. Prefix with @GROUP or >CALLSIGN.")
			return
		}
		logger.ErrorCF("relay", "Mesh routing failed", map[string]interface{}{
			"sender": sender.Short(),
			"error":  err.Error(),
		})
		return
	}

	o.persistMesh(sender, cmd)

	o.publish(ctx, bus.OutboundMessage{
		Channel:   "js8call",
		Recipient: cmd.Destination,
		Content:   cmd.Text,
		ReplyTo:   string(sender),
	})
}

func (o *Orchestrator) isBlocked(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, w := range o.blockedWords {
		if strings.Contains(lower, w) {
			return w, true
		}
	}
	return "", false
}

func (o *Orchestrator) persistRadio(rm *RadioMessage) {
	kind := storage.KindDirect
	switch rm.Kind {
	case TrafficGroup:
		kind = storage.KindGroup
	case TrafficUrgent:
		kind = storage.KindUrgent
	}

	msg := storage.Message{
		MessageID: uuid.NewString(),
		Kind:      kind,
		Sender:    rm.From,
		Target:    rm.To,
		GroupName: rm.Group,
		Content:   rm.Text,
	}
	if rm.SNR != "" {
		if v, err := parseSNR(rm.SNR); err == nil {
			msg.SNR = &v
		}
	}

	if err := o.store.SaveMessage(msg); err != nil {
		logger.WarnCF("relay", "History write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := o.store.RecordInbound(utcDay()); err != nil {
		logger.WarnCF("relay", "Stats write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) persistMesh(sender lxmf.Identity, cmd RadioCommand) {
	err := o.store.SaveMessage(storage.Message{
		MessageID: uuid.NewString(),
		Kind:      storage.KindMesh,
		Sender:    string(sender),
		Target:    cmd.Destination,
		Content:   cmd.Text,
	})
	if err != nil {
		logger.WarnCF("relay", "History write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := o.store.RecordOutbound(utcDay()); err != nil {
		logger.WarnCF("relay", "Stats write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) sendTo(ctx context.Context, identity lxmf.Identity, content string) {
	o.publish(ctx, bus.OutboundMessage{
		Channel:   "lxmf",
		Recipient: string(identity),
		Content:   content,
	})
}

func (o *Orchestrator) notifyAdmins(ctx context.Context, content string) {
	for id := range o.admins {
		o.sendTo(ctx, id, content)
	}
}

func (o *Orchestrator) publish(ctx context.Context, msg bus.OutboundMessage) {
	if err := o.bus.PublishOutbound(ctx, msg); err != nil {
		logger.ErrorCF("relay", "Outbound publish failed", map[string]interface{}{
			"channel": msg.Channel,
			"error":   err.Error(),
		})
	}
}

func utcDay() string {
	return time.Now().UTC().Format("2006-01-02")
}

func parseSNR(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
