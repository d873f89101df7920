package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hamlink/js8relay/cmd/js8relay/internal"
	"github.com/hamlink/js8relay/pkg/bus"
	"github.com/hamlink/js8relay/pkg/channels"
	"github.com/hamlink/js8relay/pkg/config"
	"github.com/hamlink/js8relay/pkg/directory"
	"github.com/hamlink/js8relay/pkg/logger"
	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/relay"
	"github.com/hamlink/js8relay/pkg/storage"
)

func serveCmd(debug, dryRun bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if debug {
		logger.SetLevel(logger.DEBUG)
	} else {
		logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	}
	if cfg.Log.File != "" {
		if err := logger.EnableFileLoggingWithRotation(
			cfg.LogPath(), cfg.Log.Rotate, cfg.Log.MaxSizeMB, cfg.Log.MaxAgeDays,
		); err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
		}
	}

	store, dbPath, err := storage.Open(cfg.DataPath())
	if err != nil {
		return fmt.Errorf("error opening storage: %w", err)
	}
	defer store.Close()
	logger.InfoCF("serve", "Storage ready", map[string]interface{}{"path": dbPath})

	dir, err := directory.New(store, cfg.Bot.DefaultGroups)
	if err != nil {
		return err
	}

	transport, err := buildTransport(cfg, dryRun)
	if err != nil {
		return err
	}

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	var orch *relay.Orchestrator

	radio := channels.NewJS8CallChannel(cfg.JS8Call, msgBus, func(err error) {
		// Degraded callback fires from the reconnect loop; the orchestrator
		// exists by the time any reconnect can run.
		if orch != nil {
			orch.NotifyDegraded(err)
		}
	})
	mesh := channels.NewLXMFChannel(transport, msgBus, cfg.LXMF.AllowFrom)

	orch = relay.NewOrchestrator(cfg, msgBus, dir, store, radio, transport.Identity())

	manager := channels.NewManager(msgBus)
	manager.Register(radio)
	manager.Register(mesh)

	scheduler := relay.NewScheduler(orch, mesh, cfg.Bot.AnnounceCron, cfg.Bot.StatsCron)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("error starting channels: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	go orch.Run(ctx)

	fmt.Printf("js8relay %s\n", internal.FormatVersion())
	fmt.Printf("  JS8Call:  %s:%d\n", cfg.JS8Call.Host, cfg.JS8Call.Port)
	fmt.Printf("  Identity: %s\n", transport.Identity())
	fmt.Printf("  Groups:   %v\n", []string(cfg.JS8Call.Groups))
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	scheduler.Stop()
	cancel()
	manager.StopAll(context.Background())
	fmt.Println("Relay stopped")

	return nil
}

func buildTransport(cfg *config.Config, dryRun bool) (lxmf.Transport, error) {
	identity, err := lxmf.ParseIdentity(cfg.LXMF.Identity)
	if err != nil {
		return nil, fmt.Errorf("lxmf.identity is not a valid destination hash: %w", err)
	}

	if dryRun {
		logger.WarnC("serve", "Dry run: mesh deliveries will be discarded")
		return lxmf.NewMemoryTransport(identity), nil
	}

	return lxmf.NewMQTTTransport(lxmf.MQTTConfig{
		BrokerURL:   cfg.LXMF.GatewayURL,
		Identity:    identity,
		TopicPrefix: cfg.LXMF.TopicPrefix,
		Username:    cfg.LXMF.Username,
		Password:    cfg.LXMF.Password,
	})
}
