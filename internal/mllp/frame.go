package mllp

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
	"time"
)

const (
	// MLLP frame characters
	StartBlock     = 0x0B
	EndBlock       = 0x1C
	CarriageReturn = 0x0D
)

// Acknowledgment codes.
const (
	AckAccept = "AA" // accepted
	AckError  = "AE" // application error
	AckReject = "AR" // rejected
)

// ReadFrame blocks until a complete MLLP frame is available and returns the
// payload with the markers stripped.
func ReadFrame(reader *bufio.Reader) ([]byte, error) {
	// Wait for start block
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	// Read until end block
	var buffer bytes.Buffer
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}

		if b == EndBlock {
			// Read carriage return
			cr, err := reader.ReadByte()
			if err != nil {
				return nil, err
			}
			if cr != CarriageReturn {
				return nil, fmt.Errorf("MLLP formatı hatası: CR beklendi, %02X alındı", cr)
			}
			break
		}

		buffer.WriteByte(b)
	}

	return buffer.Bytes(), nil
}

// Wrap adds the MLLP markers to a message.
func Wrap(message []byte) []byte {
	if len(message) == 0 {
		return message
	}
	if message[0] == StartBlock {
		return message
	}
	return append([]byte{StartBlock}, append(message, EndBlock, CarriageReturn)...)
}

// Unwrap removes the MLLP markers from a message.
func Unwrap(message []byte) []byte {
	message = bytes.TrimPrefix(message, []byte{StartBlock})
	message = bytes.TrimSuffix(message, []byte{EndBlock, CarriageReturn})
	return message
}

// BuildAck builds an acknowledgment for the given raw message: a header
// echoing the inbound control id plus an MSA segment with the code and, for
// negative acknowledgments, a free-text reason. Works on unparseable input by
// recovering whatever header fields it can.
func BuildAck(rawMessage, code, reason string) []byte {
	sendingApp, sendingFacility, messageType, controlID := recoverHeader(rawMessage)
	if controlID == "" {
		controlID = fmt.Sprintf("ACK%d", time.Now().Unix())
	}
	if messageType == "" {
		messageType = "A01"
	}

	timestamp := time.Now().Format("20060102150405")
	ack := fmt.Sprintf("MSH|^~\\&|HL7ENGINE|MINASOFT|%s|%s|%s||ACK^%s|%s|P|2.5\rMSA|%s|%s",
		sendingApp, sendingFacility, timestamp, messageType, controlID, code, controlID)
	if reason != "" {
		ack += "|" + reason
	}

	return Wrap([]byte(ack + "\r"))
}

// ExtractAckCode pulls the MSA acknowledgment code out of a reply frame.
func ExtractAckCode(ack []byte) string {
	lines := bytes.Split(ack, []byte("\r"))
	for _, line := range lines {
		if bytes.HasPrefix(line, []byte("MSA")) {
			fields := bytes.Split(line, []byte("|"))
			if len(fields) > 1 {
				return string(fields[1])
			}
		}
	}
	return ""
}

// recoverHeader extracts the correlatable MSH fields without requiring a
// fully valid message.
func recoverHeader(rawMessage string) (sendingApp, sendingFacility, messageType, controlID string) {
	msh := strings.Split(strings.TrimSpace(rawMessage), "\r")[0]
	fields := strings.Split(msh, "|")
	if len(fields) > 2 {
		sendingApp = fields[2]
	}
	if len(fields) > 3 {
		sendingFacility = fields[3]
	}
	if len(fields) > 8 {
		messageType = fields[8]
	}
	if len(fields) > 9 {
		controlID = fields[9]
	}
	return
}
