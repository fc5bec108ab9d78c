package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minasoft/hl7-engine/internal/db"
	"github.com/minasoft/hl7-engine/internal/format"
	"github.com/minasoft/hl7-engine/internal/mllp"
)

// RESTSender posts the payload as the request body; the raw reply body is the
// response text.
type RESTSender struct {
	client *http.Client
}

func NewRESTSender(timeout time.Duration) *RESTSender {
	return &RESTSender{client: &http.Client{Timeout: timeout}}
}

func (s *RESTSender) Send(ctx context.Context, endpoint, payload string, f format.Format) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: db.DestREST, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", contentTypeFor(f))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Kind: db.DestREST, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: db.DestREST, Endpoint: endpoint, Err: fmt.Errorf("yanıt okunamadı: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return string(body), &Error{Kind: db.DestREST, Endpoint: endpoint,
			Err: fmt.Errorf("beklenmeyen durum kodu %d: %s", resp.StatusCode, string(body))}
	}

	slog.Debug("REST mesajı gönderildi", "endpoint", endpoint, "status", resp.StatusCode)
	return string(body), nil
}

func contentTypeFor(f format.Format) string {
	switch f {
	case format.JSON:
		return "application/json"
	case format.XML:
		return "application/xml"
	case format.HL7:
		return "x-application/hl7-v2"
	default:
		return "text/plain"
	}
}

// MLLPSender opens a socket, writes the framed message and requires a
// positive acknowledgment within the deadline before treating the send as
// successful.
type MLLPSender struct {
	timeout time.Duration
}

func NewMLLPSender(timeout time.Duration) *MLLPSender {
	return &MLLPSender{timeout: timeout}
}

func (s *MLLPSender) Send(ctx context.Context, endpoint, payload string, _ format.Format) (string, error) {
	addr := hostPort(endpoint)

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &Error{Kind: db.DestMLLP, Endpoint: endpoint, Err: fmt.Errorf("bağlantı hatası: %w", err)}
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := conn.Write(mllp.Wrap([]byte(payload))); err != nil {
		return "", &Error{Kind: db.DestMLLP, Endpoint: endpoint, Err: fmt.Errorf("mesaj gönderme hatası: %w", err)}
	}

	conn.SetReadDeadline(time.Now().Add(s.timeout))
	ack, err := mllp.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return "", &Error{Kind: db.DestMLLP, Endpoint: endpoint, Err: fmt.Errorf("ACK zaman aşımı: %w", err)}
		}
		return "", &Error{Kind: db.DestMLLP, Endpoint: endpoint, Err: fmt.Errorf("ACK okuma hatası: %w", err)}
	}

	ackCode := mllp.ExtractAckCode(ack)
	if ackCode != "AA" && ackCode != "CA" {
		return string(ack), &Error{Kind: db.DestMLLP, Endpoint: endpoint, Err: fmt.Errorf("negatif ACK alındı: %s", ackCode)}
	}

	slog.Debug("MLLP mesajı gönderildi", "endpoint", addr, "ackCode", ackCode)
	return string(ack), nil
}

// TCPSender writes the payload verbatim and half-closes; socket closure
// without error counts as success.
type TCPSender struct {
	timeout time.Duration
}

func NewTCPSender(timeout time.Duration) *TCPSender {
	return &TCPSender{timeout: timeout}
}

func (s *TCPSender) Send(ctx context.Context, endpoint, payload string, _ format.Format) (string, error) {
	addr := hostPort(endpoint)

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &Error{Kind: db.DestTCP, Endpoint: endpoint, Err: fmt.Errorf("bağlantı hatası: %w", err)}
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := conn.Write([]byte(payload)); err != nil {
		return "", &Error{Kind: db.DestTCP, Endpoint: endpoint, Err: fmt.Errorf("mesaj gönderme hatası: %w", err)}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.CloseWrite(); err != nil {
			return "", &Error{Kind: db.DestTCP, Endpoint: endpoint, Err: fmt.Errorf("bağlantı kapatılamadı: %w", err)}
		}
	}

	conn.SetReadDeadline(time.Now().Add(s.timeout))
	reply, _ := io.ReadAll(conn)

	slog.Debug("TCP mesajı gönderildi", "endpoint", addr, "size", len(payload))
	if len(reply) > 0 {
		return string(reply), nil
	}
	return "TCP mesajı iletildi", nil
}

// FileSender writes one file per delivery attempt under the endpoint
// directory; success is write completion.
type FileSender struct {
	baseDir string
}

func NewFileSender(baseDir string) *FileSender {
	return &FileSender{baseDir: baseDir}
}

func (s *FileSender) Send(_ context.Context, endpoint, payload string, f format.Format) (string, error) {
	dir := endpoint
	if dir == "" {
		dir = s.baseDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &Error{Kind: db.DestFILE, Endpoint: endpoint, Err: fmt.Errorf("dizin oluşturulamadı: %w", err)}
	}

	name := fmt.Sprintf("msg_%s%s", time.Now().Format("20060102_150405.000000000"), extensionFor(f))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		return "", &Error{Kind: db.DestFILE, Endpoint: endpoint, Err: fmt.Errorf("dosya yazılamadı: %w", err)}
	}

	slog.Debug("Dosya yazıldı", "path", path, "size", len(payload))
	return path, nil
}

func extensionFor(f format.Format) string {
	switch f {
	case format.JSON:
		return ".json"
	case format.XML:
		return ".xml"
	case format.HL7:
		return ".hl7"
	default:
		return ".txt"
	}
}
