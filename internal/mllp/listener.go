package mllp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/format"
	"github.com/minasoft/hl7-engine/internal/script"
)

// ChannelLister supplies the routable channel roster.
type ChannelLister interface {
	ListRoutableChannels(ctx context.Context, sourceType string) ([]db.Channel, error)
}

// ProcessFunc hands an accepted frame to the processing pipeline.
type ProcessFunc func(ctx context.Context, channelID int64, rawPayload string) error

// Listener accepts MLLP connections, reassembles frames and routes each
// message to every running channel whose filter predicate accepts it. The
// channel roster is a periodically replaced immutable snapshot; routing may
// lag roster changes by up to the refresh interval.
type Listener struct {
	port            int
	store           ChannelLister
	sandbox         *script.Sandbox
	process         ProcessFunc
	refreshInterval time.Duration
	roster          atomic.Pointer[[]db.Channel]
	listener        net.Listener
}

func NewListener(port int, store ChannelLister, sandbox *script.Sandbox, process ProcessFunc, refreshInterval time.Duration) *Listener {
	if refreshInterval <= 0 {
		refreshInterval = 60 * time.Second
	}
	return &Listener{
		port:            port,
		store:           store,
		sandbox:         sandbox,
		process:         process,
		refreshInterval: refreshInterval,
	}
}

func (l *Listener) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", l.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port dinlenemedi %s: %w", addr, err)
	}
	l.listener = listener

	l.refreshRoster(ctx)
	go l.rosterLoop(ctx)

	slog.Info("MLLP dinleyici başlatıldı", "port", l.port, "address", addr)

	go l.acceptConnections(ctx)
	return nil
}

func (l *Listener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) rosterLoop(ctx context.Context) {
	ticker := time.NewTicker(l.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.refreshRoster(ctx)
		}
	}
}

func (l *Listener) refreshRoster(ctx context.Context) {
	channels, err := l.store.ListRoutableChannels(ctx, db.SourceHL7)
	if err != nil {
		slog.Error("Kanal listesi yenilenemedi", "error", err)
		return
	}
	l.roster.Store(&channels)
	slog.Debug("Kanal listesi yenilendi", "count", len(channels))
}

func (l *Listener) currentRoster() []db.Channel {
	if snapshot := l.roster.Load(); snapshot != nil {
		return *snapshot
	}
	return nil
}

func (l *Listener) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := l.listener.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("Bağlantı kabul hatası", "error", err)
				continue
			}

			go l.handleConnection(ctx, conn)
		}
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	slog.Info("Yeni MLLP bağlantısı", "remoteAddr", remoteAddr)

	reader := bufio.NewReader(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))

			frame, err := ReadFrame(reader)
			if err != nil {
				if err == io.EOF {
					slog.Info("MLLP bağlantısı kapatıldı", "remoteAddr", remoteAddr)
					return
				}
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				slog.Error("Frame okuma hatası", "error", err, "remoteAddr", remoteAddr)
				return
			}

			conn.Write(l.handleFrame(ctx, strings.TrimSpace(string(frame))))
		}
	}
}

// handleFrame routes one complete frame and returns the acknowledgment to
// write back. An unparseable frame is rejected immediately; nothing reaches
// the pipeline for it.
func (l *Listener) handleFrame(ctx context.Context, rawMessage string) []byte {
	parsed, err := parseForRouting(rawMessage)
	if err != nil {
		slog.Error("HL7 mesajı çözümlenemedi", "error", err)
		return BuildAck(rawMessage, AckError, err.Error())
	}

	routed := 0
	for _, ch := range l.currentRoster() {
		if ch.Status != db.ChannelRunning || ch.FilterScript == "" {
			continue
		}

		accepted, err := l.sandbox.RunFilter(ctx, ch.FilterScript, parsed)
		if err != nil {
			slog.Error("Filtre scripti hatası", "channelID", ch.ID, "error", err)
			continue
		}
		if !accepted {
			continue
		}

		slog.Info("Mesaj kanala yönlendirildi", "channelID", ch.ID)
		if err := l.process(ctx, ch.ID, rawMessage); err != nil {
			slog.Error("Mesaj işleme hatası", "channelID", ch.ID, "error", err)
		}
		routed++
	}

	if routed == 0 {
		slog.Warn("Mesajı kabul eden kanal yok")
		return BuildAck(rawMessage, AckError, "no matching channel")
	}

	return BuildAck(rawMessage, AckAccept, "")
}

// parseForRouting converts the raw frame to the object form filter scripts
// are written against.
func parseForRouting(rawMessage string) (map[string]any, error) {
	c, err := format.ToCanonical(rawMessage, format.HL7)
	if err != nil {
		return nil, err
	}
	out, err := format.FromCanonical(c, format.JSON)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
