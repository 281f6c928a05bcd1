// Package core defines core data structures with zero external dependencies.
package core

import (
	"encoding/base64"
	"net/netip"
	"strconv"
	"time"
)

// RawPacket is one link-layer frame handed over by a capture handle.
type RawPacket struct {
	Data       []byte    // Raw frame data, may alias the capture buffer
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Captured length
	OrigLen    uint32    // Original frame length on the wire
}

// AnalyzedRecord is the per-frame output of the pipeline.
type AnalyzedRecord struct {
	Timestamp time.Time
	Family    string // Protocol family, always "TCP" for now

	// Network context
	IPVersion       uint8
	SrcIP           netip.Addr
	DstIP           netip.Addr
	SrcPort         uint16
	DstPort         uint16
	IPHeaderLen     int
	TotalLen        uint16
	ID              uint16
	TTL             uint8
	FlagsFragOffset uint16
	Reassembled     bool // Datagram went through fragment reassembly

	// TCP context
	Seq        uint32
	Ack        uint32
	Window     uint16
	TCPFlags   uint8
	DataOffset uint8

	// Stream context
	PayloadLen  int
	StreamID    string
	FromClient  bool
	TCPState    string
	AppProtocol string

	Payload []byte // Only set when payload capture is enabled
}

// recordColumns is the stable column set used by sinks for bulk insertion.
var recordColumns = []string{
	"arrival_time",
	"protocol",
	"ip_version",
	"src_ip",
	"dst_ip",
	"src_port",
	"dst_port",
	"ip_header_length",
	"total_length",
	"identification",
	"ttl",
	"fragment_offset",
	"reassembled",
	"tcp_seq_num",
	"tcp_ack_num",
	"tcp_window_size",
	"tcp_flags",
	"tcp_data_offset",
	"payload_length",
	"stream_id",
	"is_from_client",
	"tcp_state",
	"application_protocol",
	"payload",
}

// RecordTimeLayout is the layout of the arrival_time column.
const RecordTimeLayout = "2006-01-02 15:04:05.000000"

// Columns returns the column names matching Values. The returned slice must not be modified.
func Columns() []string {
	return recordColumns
}

// Values returns the record as strings in Columns order. The payload is base64 encoded.
func (r *AnalyzedRecord) Values() []string {
	return []string{
		r.Timestamp.UTC().Format(RecordTimeLayout),
		r.Family,
		strconv.Itoa(int(r.IPVersion)),
		r.SrcIP.String(),
		r.DstIP.String(),
		strconv.Itoa(int(r.SrcPort)),
		strconv.Itoa(int(r.DstPort)),
		strconv.Itoa(r.IPHeaderLen),
		strconv.Itoa(int(r.TotalLen)),
		strconv.Itoa(int(r.ID)),
		strconv.Itoa(int(r.TTL)),
		strconv.Itoa(int(r.FlagsFragOffset)),
		boolColumn(r.Reassembled),
		strconv.FormatUint(uint64(r.Seq), 10),
		strconv.FormatUint(uint64(r.Ack), 10),
		strconv.Itoa(int(r.Window)),
		strconv.Itoa(int(r.TCPFlags)),
		strconv.Itoa(int(r.DataOffset)),
		strconv.Itoa(r.PayloadLen),
		r.StreamID,
		boolColumn(r.FromClient),
		r.TCPState,
		r.AppProtocol,
		base64.StdEncoding.EncodeToString(r.Payload),
	}
}

func boolColumn(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
