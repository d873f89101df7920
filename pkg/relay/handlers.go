package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/logger"
	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/storage"
)

func (o *Orchestrator) registerCommands() {
	p := o.cfg.Bot.CommandPrefix

	o.registry.Register(Command{
		Name:        "help",
		Description: "Show this list",
		Handler: func(_ context.Context, cc CommandContext) (string, error) {
			return o.registry.Help(cc.IsAdmin), nil
		},
	})

	o.registry.Register(Command{
		Name:        "add",
		Usage:       p + "add [identity]",
		Description: "Subscribe yourself (admins: someone else)",
		Handler:     o.cmdAdd,
	})

	o.registry.Register(Command{
		Name:        "remove",
		Usage:       p + "remove [identity]",
		Description: "Unsubscribe yourself (admins: someone else)",
		Handler:     o.cmdRemove,
	})

	o.registry.Register(Command{
		Name:        "groups",
		Description: "Show your groups and the groups on watch",
		Handler:     o.cmdGroups,
	})

	o.registry.Register(Command{
		Name:        "join",
		Usage:       p + "join @GROUP",
		Description: "Subscribe to a group",
		Handler:     o.cmdJoin,
	})

	o.registry.Register(Command{
		Name:        "leave",
		Usage:       p + "leave @GROUP",
		Description: "Unsubscribe from a group",
		Handler:     o.cmdLeave,
	})

	o.registry.Register(Command{
		Name:        "mute",
		Usage:       p + "mute @GROUP|all",
		Description: "Pause delivery of a group, or everything",
		Handler:     o.cmdMute,
	})

	o.registry.Register(Command{
		Name:        "unmute",
		Usage:       p + "unmute @GROUP|all",
		Description: "Resume delivery",
		Handler:     o.cmdUnmute,
	})

	o.registry.Register(Command{
		Name:        "bind",
		Usage:       p + "bind CALLSIGN [identity]",
		Description: "Bind a callsign to your identity (admins: any identity)",
		Handler:     o.cmdBind,
	})

	o.registry.Register(Command{
		Name:        "unbind",
		Usage:       p + "unbind CALLSIGN",
		Description: "Remove a callsign binding",
		Handler:     o.cmdUnbind,
	})

	o.registry.Register(Command{
		Name:        "info",
		Description: "Relay status",
		Handler:     o.cmdInfo,
	})

	o.registry.Register(Command{
		Name:        "showlog",
		Usage:       p + "showlog [n]",
		Description: "Show recent relayed messages",
		Handler:     o.cmdShowLog,
	})

	o.registry.Register(Command{
		Name:        "stats",
		Description: "Traffic counters",
		Handler:     o.cmdStats,
	})

	o.registry.Register(Command{
		Name:        "analytics",
		Description: "Traffic breakdown and busiest stations",
		AdminOnly:   true,
		Handler:     o.cmdAnalytics,
	})

	o.registry.Register(Command{
		Name:        "users",
		Description: "List subscribers and bindings",
		AdminOnly:   true,
		Handler:     o.cmdUsers,
	})
}

// targetIdentity resolves the subject of add/remove style commands: the
// sender by default, an explicit identity for admins.
func (o *Orchestrator) targetIdentity(cc CommandContext) (lxmf.Identity, error) {
	if len(cc.Args) == 0 {
		return cc.Sender, nil
	}
	if !cc.IsAdmin {
		return "", errors.New("only admins can act on another identity")
	}
	return lxmf.ParseIdentity(cc.Args[0])
}

func (o *Orchestrator) cmdAdd(ctx context.Context, cc CommandContext) (string, error) {
	id, err := o.targetIdentity(cc)
	if err != nil {
		return err.Error(), nil
	}

	created, err := o.dir.AddUser(id)
	if err != nil {
		return "", err
	}
	if !created {
		return fmt.Sprintf("%s is already subscribed.", id.Short()), nil
	}

	logger.InfoCF("relay", "Subscriber added", map[string]interface{}{
		"identity": id.Short(),
	})

	if id != cc.Sender {
		o.sendWelcome(ctx, id)
		return fmt.Sprintf("Subscribed %s.", id.Short()), nil
	}
	o.markWelcomed(id)
	return o.cfg.Bot.Welcome + "\nDefault groups: " + strings.Join(o.dir.Groups(id), " "), nil
}

func (o *Orchestrator) cmdRemove(_ context.Context, cc CommandContext) (string, error) {
	id, err := o.targetIdentity(cc)
	if err != nil {
		return err.Error(), nil
	}

	if err := o.dir.RemoveUser(id); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Sprintf("%s is not subscribed.", id.Short()), nil
		}
		return "", err
	}
	logger.InfoCF("relay", "Subscriber removed", map[string]interface{}{
		"identity": id.Short(),
	})
	return fmt.Sprintf("Unsubscribed %s.", id.Short()), nil
}

func (o *Orchestrator) cmdGroups(_ context.Context, cc CommandContext) (string, error) {
	var b strings.Builder
	mine := o.dir.Groups(cc.Sender)
	if len(mine) == 0 {
		b.WriteString("You are not subscribed to any group.\n")
	} else {
		b.WriteString("Your groups: " + strings.Join(mine, " ") + "\n")
	}

	watched := make([]string, 0, len(o.cfg.JS8Call.Groups)+len(o.cfg.JS8Call.UrgentGroups))
	for _, g := range o.cfg.JS8Call.Groups {
		watched = append(watched, directory.NormalizeGroup(g))
	}
	for _, g := range o.cfg.JS8Call.UrgentGroups {
		watched = append(watched, directory.NormalizeGroup(g)+" (urgent)")
	}
	b.WriteString("On watch: " + strings.Join(watched, " "))
	return b.String(), nil
}

func (o *Orchestrator) requireGroupArg(cc CommandContext) (string, bool) {
	if len(cc.Args) == 0 {
		return "", false
	}
	return cc.Args[0], true
}

func (o *Orchestrator) cmdJoin(_ context.Context, cc CommandContext) (string, error) {
	group, ok := o.requireGroupArg(cc)
	if !ok {
		return "Usage: " + o.cfg.Bot.CommandPrefix + "join @GROUP", nil
	}
	if err := o.dir.Join(cc.Sender, group); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "Subscribe first with " + o.cfg.Bot.CommandPrefix + "add.", nil
		}
		return "", err
	}
	return "Joined " + directory.NormalizeGroup(group) + ".", nil
}

func (o *Orchestrator) cmdLeave(_ context.Context, cc CommandContext) (string, error) {
	group, ok := o.requireGroupArg(cc)
	if !ok {
		return "Usage: " + o.cfg.Bot.CommandPrefix + "leave @GROUP", nil
	}
	if err := o.dir.Leave(cc.Sender, group); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "You are not subscribed.", nil
		}
		return "", err
	}
	return "Left " + directory.NormalizeGroup(group) + ".", nil
}

func muteTarget(arg string) string {
	if strings.EqualFold(arg, "all") || arg == directory.MuteAll {
		return directory.MuteAll
	}
	return arg
}

func (o *Orchestrator) cmdMute(_ context.Context, cc CommandContext) (string, error) {
	group, ok := o.requireGroupArg(cc)
	if !ok {
		return "Usage: " + o.cfg.Bot.CommandPrefix + "mute @GROUP|all", nil
	}
	target := muteTarget(group)
	if err := o.dir.Mute(cc.Sender, target); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "Subscribe first with " + o.cfg.Bot.CommandPrefix + "add.", nil
		}
		return "", err
	}
	if target == directory.MuteAll {
		return "All delivery muted. Send " + o.cfg.Bot.CommandPrefix + "unmute all to resume.", nil
	}
	return "Muted " + directory.NormalizeGroup(group) + ".", nil
}

func (o *Orchestrator) cmdUnmute(_ context.Context, cc CommandContext) (string, error) {
	group, ok := o.requireGroupArg(cc)
	if !ok {
		return "Usage: " + o.cfg.Bot.CommandPrefix + "unmute @GROUP|all", nil
	}
	target := muteTarget(group)
	if err := o.dir.Unmute(cc.Sender, target); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return "You are not subscribed.", nil
		}
		return "", err
	}
	if target == directory.MuteAll {
		return "Delivery resumed.", nil
	}
	return "Unmuted " + directory.NormalizeGroup(group) + ".", nil
}

func (o *Orchestrator) cmdBind(_ context.Context, cc CommandContext) (string, error) {
	if len(cc.Args) == 0 {
		return "Usage: " + o.cfg.Bot.CommandPrefix + "bind CALLSIGN [identity]", nil
	}

	id := cc.Sender
	if len(cc.Args) > 1 {
		if !cc.IsAdmin {
			return "Only admins can bind a callsign to another identity.", nil
		}
		parsed, err := lxmf.ParseIdentity(cc.Args[1])
		if err != nil {
			return "Malformed identity: " + cc.Args[1], nil
		}
		id = parsed
	}

	if err := o.dir.Bind(cc.Args[0], id); err != nil {
		if errors.Is(err, directory.ErrInvalidCallsign) {
			return "Invalid callsign: " + cc.Args[0], nil
		}
		return "", err
	}

	call, _ := directory.NormalizeCallsign(cc.Args[0])
	logger.InfoCF("relay", "Callsign bound", map[string]interface{}{
		"callsign": call,
		"identity": id.Short(),
	})
	return fmt.Sprintf("Bound %s to %s. Directed traffic for %s now reaches that identity.",
		call, id.Short(), call), nil
}

func (o *Orchestrator) cmdUnbind(_ context.Context, cc CommandContext) (string, error) {
	if len(cc.Args) == 0 {
		return "Usage: " + o.cfg.Bot.CommandPrefix + "unbind CALLSIGN", nil
	}

	call, err := directory.NormalizeCallsign(cc.Args[0])
	if err != nil {
		return "Invalid callsign: " + cc.Args[0], nil
	}

	bound, ok := o.dir.ResolveCallsign(call)
	if !ok {
		return call + " is not bound.", nil
	}
	if bound != cc.Sender && !cc.IsAdmin {
		return "Only admins can remove someone else's binding.", nil
	}

	if err := o.dir.Unbind(call); err != nil {
		return "", err
	}
	return "Unbound " + call + ".", nil
}

func (o *Orchestrator) cmdInfo(_ context.Context, _ CommandContext) (string, error) {
	radio := "down"
	if o.station.Connected() {
		radio = "up"
	}
	call := o.station.Callsign()
	if call == "" {
		call = "unknown"
	}

	return fmt.Sprintf(
		"%s\nStation: %s (link %s)\nIdentity: %s\nSubscribers: %d\nUptime: %s",
		o.cfg.Bot.Name,
		call,
		radio,
		o.botIdentity,
		len(o.dir.Users()),
		time.Since(o.startedAt).Round(time.Second),
	), nil
}

func (o *Orchestrator) cmdShowLog(_ context.Context, cc CommandContext) (string, error) {
	limit := 10
	if len(cc.Args) > 0 {
		if n, err := strconv.Atoi(cc.Args[0]); err == nil {
			limit = n
		}
	}

	messages, err := o.store.RecentMessages(limit)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "No messages relayed yet.", nil
	}

	var b strings.Builder
	for _, m := range messages {
		ts := time.UnixMilli(m.Timestamp).UTC().Format("01-02 15:04")
		switch m.Kind {
		case storage.KindMesh:
			fmt.Fprintf(&b, "%s mesh>%s %s\n", ts, m.Target, m.Content)
		case storage.KindGroup, storage.KindUrgent:
			fmt.Fprintf(&b, "%s %s %s: %s\n", ts, m.GroupName, m.Sender, m.Content)
		default:
			fmt.Fprintf(&b, "%s %s>%s %s\n", ts, m.Sender, m.Target, m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) cmdStats(_ context.Context, _ CommandContext) (string, error) {
	now := time.Now().UTC()
	day, err := o.store.CountMessagesSince(now.Add(-24 * time.Hour))
	if err != nil {
		return "", err
	}
	week, err := o.store.CountMessagesSince(now.Add(-7 * 24 * time.Hour))
	if err != nil {
		return "", err
	}
	month, err := o.store.CountMessagesSince(now.Add(-30 * 24 * time.Hour))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Messages: %d today, %d this week, %d this month. Subscribers: %d.",
		day, week, month, len(o.dir.Users())), nil
}

func (o *Orchestrator) cmdAnalytics(_ context.Context, _ CommandContext) (string, error) {
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)

	counts, err := o.store.KindCountsSince(since)
	if err != nil {
		return "", err
	}
	senders, err := o.store.TopSenders(since, 5)
	if err != nil {
		return "", err
	}
	daily, err := o.store.DailyStats(7)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Last 7 days:\n")
	fmt.Fprintf(&b, "direct %d, group %d, urgent %d, mesh %d\n",
		counts[storage.KindDirect], counts[storage.KindGroup],
		counts[storage.KindUrgent], counts[storage.KindMesh])
	if len(senders) > 0 {
		b.WriteString("Busiest: " + strings.Join(senders, " ") + "\n")
	}
	for _, d := range daily {
		fmt.Fprintf(&b, "%s in %d out %d\n", d.Day, d.Inbound, d.Outbound)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) cmdUsers(_ context.Context, _ CommandContext) (string, error) {
	var b strings.Builder

	users := o.dir.Users()
	fmt.Fprintf(&b, "Subscribers (%d):\n", len(users))
	for _, id := range users {
		groups := o.dir.Groups(id)
		fmt.Fprintf(&b, "%s %s\n", id, strings.Join(groups, " "))
	}

	bindings := o.dir.Bindings()
	if len(bindings) > 0 {
		b.WriteString("Bindings:\n")
		for _, bind := range bindings {
			fmt.Fprintf(&b, "%s -> %s\n", bind.Callsign, lxmf.Identity(bind.Identity).Short())
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (o *Orchestrator) sendWelcome(ctx context.Context, id lxmf.Identity) {
	o.sendTo(ctx, id, o.cfg.Bot.Welcome)
	o.markWelcomed(id)
}

func (o *Orchestrator) markWelcomed(id lxmf.Identity) {
	if err := o.store.MarkWelcomed(string(id)); err != nil {
		logger.WarnCF("relay", "Welcome flag write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
