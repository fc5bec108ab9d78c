package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/minasoft/hl7-engine/internal/config"
	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/engine"
	"github.com/minasoft/hl7-engine/internal/events"
	"github.com/minasoft/hl7-engine/internal/mllp"
	"github.com/minasoft/hl7-engine/internal/script"
	"github.com/minasoft/hl7-engine/internal/transport"
	"github.com/minasoft/hl7-engine/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Yapılandırma yüklenemedi", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Connect relational store and apply migrations
	sqlDB, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Veritabanına bağlanılamadı", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.Migrate(sqlDB); err != nil {
		slog.Error("Migration başarısız", "error", err)
		os.Exit(1)
	}

	store := db.NewStore(sqlDB)

	// Start embedded event bus
	bus, err := events.NewBus()
	if err != nil {
		slog.Error("Olay sunucusu başlatılamadı", "error", err)
		os.Exit(1)
	}
	defer bus.Shutdown()

	// Build the processing pipeline
	sandbox := script.NewSandbox(cfg.ScriptTimeout)
	senders := func(kind string) (transport.Sender, error) {
		return transport.ForKind(kind, transport.Config{
			Timeout:     cfg.TransportTimeout,
			FileSinkDir: cfg.FileSinkDir,
		})
	}
	eng := engine.New(store, sandbox, senders, bus)

	// Start MLLP listener
	listener := mllp.NewListener(cfg.MLLPListenPort, store, sandbox,
		func(ctx context.Context, channelID int64, rawPayload string) error {
			_, err := eng.ProcessInbound(ctx, channelID, rawPayload)
			return err
		},
		cfg.RosterRefreshInterval)
	if err := listener.Start(ctx); err != nil {
		slog.Error("MLLP dinleyici başlatılamadı", "error", err)
		os.Exit(1)
	}
	defer listener.Stop()

	// Start web server
	webServer := web.NewServer(eng, store, bus, cfg.WebPort)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			slog.Error("Web sunucu hatası", "error", err)
		}
	}()

	slog.Info("HL7 Engine başlatıldı",
		"mllpPort", cfg.MLLPListenPort,
		"webPort", cfg.WebPort,
	)

	// Print startup information
	printStartupInfo(cfg)

	// Wait for shutdown signal
	<-sigChan
	slog.Info("Kapatma sinyali alındı, sunucu kapatılıyor...")

	// Cancel context to stop all services
	cancel()

	// Wait for all goroutines to finish
	wg.Wait()

	slog.Info("HL7 Engine kapatıldı")
}

func printStartupInfo(cfg *config.Config) {
	info := `
╔═══════════════════════════════════════════════════════════════╗
║                     HL7 Engine Başlatıldı                     ║
╠═══════════════════════════════════════════════════════════════╣
║ MLLP Listener Port   : %-39d ║
║ Web Dashboard        : http://localhost:%-22d ║
║                                                               ║
║ Script Timeout       : %-39s ║
║ Roster Refresh       : %-39s ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Printf(info,
		cfg.MLLPListenPort,
		cfg.WebPort,
		cfg.ScriptTimeout.String(),
		cfg.RosterRefreshInterval.String(),
	)
}
