package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/minasoft/hl7-engine/internal/engine"
)

const subjectPrefix = "engine.events"

// Bus is the in-process event feed: an embedded NATS server carrying message
// lifecycle events from the pipeline to the dashboard stream.
type Bus struct {
	server *server.Server
	nc     *nats.Conn
}

// NewBus starts the embedded NATS server on a random internal-only port and
// connects to it.
func NewBus() (*Bus, error) {
	opts := &server.Options{
		Port:     -1, // Random port, sadece internal kullanım
		HTTPPort: -1, // HTTP monitoring kapalı
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("NATS sunucu oluşturulamadı: %w", err)
	}

	ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return nil, fmt.Errorf("NATS sunucu başlatılamadı")
	}

	slog.Info("Gömülü NATS sunucu başlatıldı", "clientURL", ns.ClientURL())

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS bağlantısı kurulamadı: %w", err)
	}

	return &Bus{server: ns, nc: nc}, nil
}

// Publish sends one lifecycle event; failures are logged, never propagated,
// so the feed can not break the pipeline.
func (b *Bus) Publish(ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Olay serialize edilemedi", "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, ev.Type)
	if err := b.nc.Publish(subject, data); err != nil {
		slog.Error("Olay yayınlanamadı", "subject", subject, "error", err)
	}
}

// Subscribe delivers every lifecycle event to the handler until the returned
// unsubscribe function is called.
func (b *Bus) Subscribe(handler func(data []byte)) (func(), error) {
	sub, err := b.nc.Subscribe(subjectPrefix+".>", func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("olay aboneliği kurulamadı: %w", err)
	}
	return func() { sub.Unsubscribe() }, nil
}

func (b *Bus) Shutdown() {
	if b.nc != nil {
		b.nc.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
		b.server.WaitForShutdown()
	}
	slog.Info("NATS sunucu kapatıldı")
}
