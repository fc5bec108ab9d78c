package mllp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	channels []db.Channel
}

func (f *fakeLister) ListRoutableChannels(ctx context.Context, sourceType string) ([]db.Channel, error) {
	return f.channels, nil
}

type processRecorder struct {
	mu    sync.Mutex
	calls []int64
}

func (p *processRecorder) fn(ctx context.Context, channelID int64, rawPayload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, channelID)
	return nil
}

func (p *processRecorder) channelIDs() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.calls...)
}

const routableADT = "MSH|^~\\&|SENDAPP|SENDFAC|REC|RFAC|20240101120000||ADT^A01|CTRL1|P|2.5\r" +
	"PID|1||42||Doe^John||19800101|M"

func newTestListener(t *testing.T, channels []db.Channel, rec *processRecorder) *Listener {
	t.Helper()
	l := NewListener(0, &fakeLister{channels: channels}, script.NewSandbox(time.Second), rec.fn, time.Minute)
	l.refreshRoster(context.Background())
	return l
}

func TestHandleFrameRoutesToMatchingChannel(t *testing.T) {
	rec := &processRecorder{}
	l := newTestListener(t, []db.Channel{
		{ID: 1, Status: db.ChannelRunning, FilterScript: `msg.hl7type === "ADT^A01"`},
		{ID: 2, Status: db.ChannelRunning, FilterScript: `msg.hl7type === "ORU^R01"`},
	}, rec)

	ack := l.handleFrame(context.Background(), routableADT)

	assert.Equal(t, AckAccept, ExtractAckCode(Unwrap(ack)))
	assert.Equal(t, []int64{1}, rec.channelIDs())
}

func TestHandleFrameSkipsStoppedChannels(t *testing.T) {
	rec := &processRecorder{}
	l := newTestListener(t, []db.Channel{
		{ID: 1, Status: db.ChannelStopped, FilterScript: `true`},
	}, rec)

	ack := l.handleFrame(context.Background(), routableADT)

	assert.Equal(t, AckError, ExtractAckCode(Unwrap(ack)))
	assert.Empty(t, rec.channelIDs())
}

func TestHandleFrameSkipsChannelsWithoutFilter(t *testing.T) {
	rec := &processRecorder{}
	l := newTestListener(t, []db.Channel{
		{ID: 1, Status: db.ChannelRunning, FilterScript: ""},
	}, rec)

	ack := l.handleFrame(context.Background(), routableADT)

	assert.Equal(t, AckError, ExtractAckCode(Unwrap(ack)))
	assert.Empty(t, rec.channelIDs())
}

func TestHandleFrameNoMatchingChannel(t *testing.T) {
	rec := &processRecorder{}
	l := newTestListener(t, []db.Channel{
		{ID: 1, Status: db.ChannelRunning, FilterScript: `false`},
	}, rec)

	ack := string(Unwrap(l.handleFrame(context.Background(), routableADT)))

	assert.Contains(t, ack, "MSA|AE|CTRL1|no matching channel")
	assert.Empty(t, rec.channelIDs())
}

func TestHandleFrameUnparseableMessage(t *testing.T) {
	rec := &processRecorder{}
	l := newTestListener(t, []db.Channel{
		{ID: 1, Status: db.ChannelRunning, FilterScript: `true`},
	}, rec)

	ack := l.handleFrame(context.Background(), "PID|without|header")

	assert.Equal(t, AckError, ExtractAckCode(Unwrap(ack)))
	assert.Empty(t, rec.channelIDs(), "çözümlenemeyen mesaj boru hattına ulaşmamalı")
}

func TestHandleFrameFilterErrorSkipsChannel(t *testing.T) {
	rec := &processRecorder{}
	l := newTestListener(t, []db.Channel{
		{ID: 1, Status: db.ChannelRunning, FilterScript: `throw new Error("bozuk")`},
		{ID: 2, Status: db.ChannelRunning, FilterScript: `true`},
	}, rec)

	ack := l.handleFrame(context.Background(), routableADT)

	// A broken filter only disqualifies its own channel.
	assert.Equal(t, AckAccept, ExtractAckCode(Unwrap(ack)))
	assert.Equal(t, []int64{2}, rec.channelIDs())
}

func TestParseForRouting(t *testing.T) {
	parsed, err := parseForRouting(routableADT)
	require.NoError(t, err)

	assert.Equal(t, "ADT^A01", parsed["hl7type"])
	assert.Equal(t, "42", parsed["patientId"])
	assert.Equal(t, "Doe^John", parsed["name"])
}
