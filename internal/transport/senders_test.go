package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/format"
	"github.com/minasoft/hl7-engine/internal/mllp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTSenderSuccess(t *testing.T) {
	var gotBody, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"received":true}`))
	}))
	defer server.Close()

	s := NewRESTSender(2 * time.Second)
	resp, err := s.Send(context.Background(), server.URL, `{"patientId":"1"}`, format.JSON)
	require.NoError(t, err)

	assert.Equal(t, `{"received":true}`, resp)
	assert.Equal(t, `{"patientId":"1"}`, gotBody)
	assert.Equal(t, "application/json", gotContentType)
}

func TestRESTSenderContentTypes(t *testing.T) {
	tests := []struct {
		f        format.Format
		expected string
	}{
		{format.JSON, "application/json"},
		{format.XML, "application/xml"},
		{format.HL7, "x-application/hl7-v2"},
		{format.TEXT, "text/plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, contentTypeFor(tt.f))
	}
}

func TestRESTSenderNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	s := NewRESTSender(2 * time.Second)
	resp, err := s.Send(context.Background(), server.URL, "x", format.TEXT)
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, db.DestREST, terr.Kind)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, "upstream down", resp)
}

func TestRESTSenderConnectionRefused(t *testing.T) {
	s := NewRESTSender(time.Second)
	_, err := s.Send(context.Background(), "http://127.0.0.1:1", "x", format.TEXT)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, db.DestREST, terr.Kind)
}

// ackServer accepts one MLLP connection and replies with the given MSA code.
func ackServer(t *testing.T, code string) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		frame, err := mllp.ReadFrame(bufio.NewReader(conn))
		if err != nil {
			return
		}
		conn.Write(mllp.BuildAck(string(frame), code, ""))
	}()

	return ln.Addr()
}

func TestMLLPSenderPositiveAck(t *testing.T) {
	addr := ackServer(t, mllp.AckAccept)

	s := NewMLLPSender(2 * time.Second)
	resp, err := s.Send(context.Background(), "mllp://"+addr.String(),
		"MSH|^~\\&|A|B|C|D|20240101||ADT^A01|M1|P|2.5", format.HL7)
	require.NoError(t, err)
	assert.Contains(t, resp, "MSA|AA|M1")
}

func TestMLLPSenderNegativeAck(t *testing.T) {
	addr := ackServer(t, mllp.AckError)

	s := NewMLLPSender(2 * time.Second)
	resp, err := s.Send(context.Background(), addr.String(),
		"MSH|^~\\&|A|B|C|D|20240101||ADT^A01|M1|P|2.5", format.HL7)
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, db.DestMLLP, terr.Kind)
	assert.Contains(t, err.Error(), "negatif ACK")
	assert.Contains(t, resp, "MSA|AE|M1")
}

func TestMLLPSenderAckTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept but never acknowledge.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.ReadAll(conn)
	}()

	s := NewMLLPSender(300 * time.Millisecond)
	_, err = s.Send(context.Background(), ln.Addr().String(), "MSH|test", format.HL7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACK zaman aşımı")
}

func TestMLLPSenderConnectionRefused(t *testing.T) {
	s := NewMLLPSender(time.Second)
	_, err := s.Send(context.Background(), "127.0.0.1:1", "MSH|test", format.HL7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bağlantı hatası")
}

func TestTCPSenderWithReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		data, _ := io.ReadAll(conn)
		received <- string(data)
		conn.Write([]byte("alındı"))
	}()

	s := NewTCPSender(2 * time.Second)
	resp, err := s.Send(context.Background(), "tcp://"+ln.Addr().String(), "ham veri", format.TEXT)
	require.NoError(t, err)

	assert.Equal(t, "alındı", resp)
	assert.Equal(t, "ham veri", <-received)
}

func TestTCPSenderNoReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		io.ReadAll(conn)
		conn.Close()
	}()

	s := NewTCPSender(2 * time.Second)
	resp, err := s.Send(context.Background(), ln.Addr().String(), "veri", format.TEXT)
	require.NoError(t, err)
	assert.Equal(t, "TCP mesajı iletildi", resp)
}

func TestFileSenderWritesPayload(t *testing.T) {
	dir := t.TempDir()

	s := NewFileSender("")
	path, err := s.Send(context.Background(), dir, `{"a":1}`, format.JSON)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "msg_"))
	assert.Equal(t, ".json", filepath.Ext(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(content))
}

func TestFileSenderFallsBackToBaseDir(t *testing.T) {
	base := t.TempDir()

	s := NewFileSender(base)
	path, err := s.Send(context.Background(), "", "MSH|test", format.HL7)
	require.NoError(t, err)

	assert.Equal(t, base, filepath.Dir(path))
	assert.Equal(t, ".hl7", filepath.Ext(path))
}

func TestForKind(t *testing.T) {
	cfg := Config{Timeout: time.Second, FileSinkDir: t.TempDir()}

	for _, kind := range []string{db.DestREST, db.DestHL7, db.DestMLLP, db.DestTCP, db.DestFILE} {
		sender, err := ForKind(kind, cfg)
		require.NoError(t, err, kind)
		assert.NotNil(t, sender, kind)
	}

	_, err := ForKind("FTP", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "desteklenmeyen hedef tipi")
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "host:2575", hostPort("tcp://host:2575"))
	assert.Equal(t, "host:2575", hostPort("mllp://host:2575"))
	assert.Equal(t, "host:2575", hostPort("hl7://host:2575"))
	assert.Equal(t, "host:2575", hostPort("host:2575"))
}
