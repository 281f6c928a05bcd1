package stream

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/core"
)

const (
	syn    = core.TCPFlagSYN
	ack    = core.TCPFlagACK
	fin    = core.TCPFlagFIN
	rst    = core.TCPFlagRST
	synAck = core.TCPFlagSYN | core.TCPFlagACK
	finAck = core.TCPFlagFIN | core.TCPFlagACK
	pshAck = core.TCPFlagPSH | core.TCPFlagACK
)

var t0 = time.Unix(1_700_000_000, 0)

// conn drives one connection through a table from either side.
type conn struct {
	t      *testing.T
	table  *Table
	client netip.AddrPort
	server netip.AddrPort
}

func newConn(t *testing.T, table *Table) *conn {
	return &conn{
		t:      t,
		table:  table,
		client: netip.MustParseAddrPort("10.0.0.1:1234"),
		server: netip.MustParseAddrPort("10.0.0.2:80"),
	}
}

func (c *conn) send(from, to netip.AddrPort, now time.Time, seq, ackNum uint32, flags uint8, payload string, opts []byte) Result {
	c.t.Helper()
	ip := core.IPHeader{Version: 4, HeaderLen: 20, Protocol: core.ProtocolTCP, SrcIP: from.Addr(), DstIP: to.Addr()}
	tcp := core.TCPHeader{
		SrcPort:    from.Port(),
		DstPort:    to.Port(),
		Seq:        seq,
		Ack:        ackNum,
		DataOffset: uint8(5 + len(opts)/4),
		Flags:      flags,
		Window:     65535,
	}
	res, err := c.table.Dispatch(ip, tcp, opts, []byte(payload), now)
	require.NoError(c.t, err)
	return res
}

func (c *conn) fromClient(now time.Time, seq, ackNum uint32, flags uint8, payload string) Result {
	c.t.Helper()
	return c.send(c.client, c.server, now, seq, ackNum, flags, payload, nil)
}

func (c *conn) fromServer(now time.Time, seq, ackNum uint32, flags uint8, payload string) Result {
	c.t.Helper()
	return c.send(c.server, c.client, now, seq, ackNum, flags, payload, nil)
}

// handshake opens the connection with client ISN 1000 and server ISN 5000.
func (c *conn) handshake(now time.Time) *Stream {
	c.t.Helper()
	res := c.fromClient(now, 1000, 0, syn, "")
	require.True(c.t, res.Created)
	c.fromServer(now, 5000, 1001, synAck, "")
	res = c.fromClient(now, 1001, 5001, ack, "")
	require.Equal(c.t, StateEstablished, res.State)
	return res.Stream
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		StateListen:      "Listen",
		StateSynSent:     "SynSent",
		StateSynReceived: "SynReceived",
		StateEstablished: "Established",
		StateFinWait1:    "FinWait1",
		StateFinWait2:    "FinWait2",
		StateCloseWait:   "CloseWait",
		StateClosing:     "Closing",
		StateLastAck:     "LastAck",
		StateTimeWait:    "TimeWait",
		StateClosed:      "Closed",
		State(200):       "Unknown",
	}
	for state, want := range names {
		assert.Equal(t, want, state.String())
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from  State
		flags uint8
		want  State
	}{
		{StateListen, syn, StateSynReceived},
		{StateListen, ack, StateListen},
		{StateSynSent, synAck, StateEstablished},
		{StateSynSent, syn, StateSynSent},
		{StateSynReceived, ack, StateEstablished},
		{StateEstablished, finAck, StateFinWait1},
		{StateEstablished, pshAck, StateEstablished},
		{StateFinWait1, fin, StateFinWait2},
		{StateFinWait1, finAck, StateFinWait2},
		{StateFinWait1, ack, StateFinWait1},
		{StateFinWait2, ack, StateTimeWait},
		{StateCloseWait, fin, StateLastAck},
		{StateLastAck, ack, StateClosed},
		{StateClosing, ack, StateClosing},
		{StateTimeWait, ack, StateTimeWait},
		{StateEstablished, rst, StateEstablished},
		{StateSynSent, rst | ack, StateSynSent},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transition(tt.from, tt.flags), "%s + %#02x", tt.from, tt.flags)
	}
}

func TestHandshakeAndTeardown(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)

	res := c.fromClient(t0, 1000, 0, syn, "")
	assert.Equal(t, StateSynSent, res.State)
	res = c.fromServer(t0, 5000, 1001, synAck, "")
	assert.Equal(t, StateEstablished, res.State)
	res = c.fromClient(t0, 1001, 5001, ack, "")
	assert.Equal(t, StateEstablished, res.State)
	res = c.fromClient(t0, 1001, 5001, finAck, "")
	assert.Equal(t, StateFinWait1, res.State)
	res = c.fromServer(t0, 5001, 1002, finAck, "")
	assert.Equal(t, StateFinWait2, res.State)
	res = c.fromClient(t0, 1002, 5002, ack, "")
	assert.Equal(t, StateTimeWait, res.State)
	require.Equal(t, 1, table.Len())

	// Not yet expired
	res = c.fromServer(t0.Add(119*time.Second), 5002, 1002, ack, "")
	assert.Equal(t, StateTimeWait, res.State)

	// 120s after the last activity the next update closes and removes it
	res = c.fromClient(t0.Add(239*time.Second), 1002, 5002, ack, "")
	assert.Equal(t, StateClosed, res.State)
	assert.True(t, res.Removed)
	assert.Equal(t, 0, table.Len())
}

func TestSweepClosesSilentTimeWait(t *testing.T) {
	table := NewTable(TableConfig{RetentionTimeout: time.Hour})
	c := newConn(t, table)
	c.handshake(t0)
	c.fromClient(t0, 1001, 5001, finAck, "")
	c.fromServer(t0, 5001, 1002, finAck, "")
	res := c.fromClient(t0, 1002, 5002, ack, "")
	require.Equal(t, StateTimeWait, res.State)
	s := res.Stream

	assert.Equal(t, 0, table.Sweep(t0.Add(119*time.Second)))
	assert.Equal(t, 1, table.Sweep(t0.Add(120*time.Second)))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, table.Len())
}

func TestKeyCanonicalization(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)

	fwd := c.fromClient(t0, 1000, 0, syn, "")
	rev := c.fromServer(t0, 5000, 1001, synAck, "")

	assert.Same(t, fwd.Stream, rev.Stream)
	assert.Equal(t, fwd.Key, rev.Key)
	assert.True(t, fwd.FromClient)
	assert.False(t, rev.FromClient)
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, "10.0.0.1:1234-10.0.0.2:80", fwd.Key.String())
	assert.Equal(t, fwd.Key, fwd.Key.Reverse().Reverse())

	s, ok := table.Lookup(fwd.Key.Reverse())
	require.True(t, ok)
	assert.Same(t, fwd.Stream, s)
}

func TestUnknownFlowWithoutSYNIgnored(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)

	res := c.fromClient(t0, 1000, 1, pshAck, "data")
	assert.Nil(t, res.Stream)
	assert.False(t, res.Created)
	assert.Equal(t, 0, table.Len())
}

func TestInOrderBuffering(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)
	s := c.handshake(t0)

	c.fromClient(t0, 1001, 5001, pshAck, "hello")
	c.fromClient(t0, 1016, 5001, pshAck, "later") // gap: expected 1006
	assert.Equal(t, []byte("hello"), s.Data(true))

	c.fromClient(t0, 1003, 5001, pshAck, "llo") // retransmitted overlap
	assert.Equal(t, []byte("hello"), s.Data(true))

	c.fromClient(t0, 1006, 5001, pshAck, "world")
	assert.Equal(t, []byte("helloworld"), s.Data(true))
	assert.Equal(t, uint32(1011), s.Client().Next)

	c.fromServer(t0, 5001, 1011, pshAck, "HTTP/1.1 200 OK")
	assert.Equal(t, []byte("HTTP/1.1 200 OK"), s.Data(false))
	assert.Equal(t, uint32(1000), s.Client().ISN)
	assert.Equal(t, uint32(5000), s.Server().ISN)
}

func TestAckAdvancesPeer(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)
	s := c.handshake(t0)

	// Client segment lost from capture; the server ACK moves the pointer past it
	c.fromServer(t0, 5001, 1101, ack, "")
	assert.Equal(t, uint32(1101), s.Client().Next)

	c.fromClient(t0, 1101, 5001, pshAck, "after")
	assert.Equal(t, []byte("after"), s.Data(true))

	// A stale ACK never moves the pointer back
	c.fromServer(t0, 5001, 1050, ack, "")
	assert.Equal(t, uint32(1106), s.Client().Next)
}

func TestSequenceWraparound(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)

	res := c.fromClient(t0, 0xFFFFFFFE, 0, syn, "")
	s := res.Stream
	c.fromClient(t0, 0xFFFFFFFF, 0, pshAck, "abc")
	assert.Equal(t, uint32(2), s.Client().Next)

	c.fromClient(t0, 2, 0, pshAck, "de")
	assert.Equal(t, []byte("abcde"), s.Data(true))

	// ACK across the wrap is ahead of the pre-wrap pointer
	c.fromServer(t0, 7000, 0xFFFFFFFF, synAck, "")
	c.fromServer(t0, 7001, 10, ack, "")
	assert.Equal(t, uint32(10), s.Client().Next)
}

func TestMSSAnnouncements(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)

	res := c.send(c.client, c.server, t0, 1000, 0, syn, "", []byte{2, 4, 0x05, 0x78}) // 1400
	s := res.Stream
	assert.Equal(t, uint16(1400), s.Client().MSS)
	assert.Equal(t, DefaultMSS, s.Server().MSS)

	c.send(c.server, c.client, t0, 5000, 1001, synAck, "", []byte{1, 1, 2, 4, 0x05, 0x50}) // 1360
	assert.Equal(t, uint16(1360), s.Server().MSS)
	assert.Equal(t, uint32(13600), s.Server().Cwnd)
}

func TestCwndBookkeeping(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)

	res := c.send(c.client, c.server, t0, 1000, 0, syn, "", []byte{2, 4, 0x03, 0xE8}) // 1000
	s := res.Stream
	require.Equal(t, uint32(10000), s.Client().Cwnd)

	c.fromServer(t0, 5000, 1001, synAck, "")
	c.fromClient(t0, 1001, 5001, pshAck, string(make([]byte, 3000)))
	c.fromServer(t0, 5001, 4001, ack, "")
	// Growth is capped at one MSS per ACK
	assert.Equal(t, uint32(11000), s.Client().Cwnd)

	c.fromClient(t0, 4001, 5001, pshAck, string(make([]byte, 200)))
	c.fromServer(t0, 5001, 4201, ack, "")
	assert.Equal(t, uint32(11200), s.Client().Cwnd)
}

func TestBufferCap(t *testing.T) {
	table := NewTable(TableConfig{MaxBufferBytes: 4})
	c := newConn(t, table)
	s := c.handshake(t0)

	c.fromClient(t0, 1001, 5001, pshAck, "abcdef")
	c.fromClient(t0, 1007, 5001, pshAck, "gh")

	client := s.Client()
	assert.Equal(t, []byte("abcd"), s.Data(true))
	assert.Equal(t, 4, client.Buffered)
	assert.Equal(t, 4, client.Truncated)
	assert.Equal(t, uint32(1009), client.Next, "sequence keeps advancing past the cap")
}

func TestResetKeepsStateByDefault(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)
	c.handshake(t0)

	res := c.fromClient(t0, 1001, 5001, rst|ack, "")
	assert.Equal(t, StateEstablished, res.State)
	assert.False(t, res.Removed)
	assert.Equal(t, 1, table.Len())

	assert.Equal(t, 1, table.Sweep(t0.Add(301*time.Second)), "reclaimed by the idle sweep")
	assert.Equal(t, 0, table.Len())
}

func TestResetClosesWhenEnabled(t *testing.T) {
	table := NewTable(TableConfig{ResetCloses: true})
	c := newConn(t, table)
	c.handshake(t0)

	res := c.fromServer(t0, 5001, 1001, rst, "")
	assert.Equal(t, StateClosed, res.State)
	assert.True(t, res.Removed)
	assert.Equal(t, 0, table.Len())
}

func TestIdleEviction(t *testing.T) {
	table := NewTable(TableConfig{RetentionTimeout: 300 * time.Second})
	c := newConn(t, table)
	s := c.handshake(t0)
	require.True(t, s.Established())

	assert.Equal(t, 0, table.Sweep(t0.Add(300*time.Second)))
	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 1, table.Sweep(t0.Add(301*time.Second)))
	assert.Equal(t, 0, table.Len())
}

func TestHandshakeTimeout(t *testing.T) {
	table := NewTable(TableConfig{HandshakeTimeout: 60 * time.Second})
	c := newConn(t, table)
	c.fromClient(t0, 1000, 0, syn, "")

	assert.Equal(t, 0, table.Sweep(t0.Add(60*time.Second)))
	assert.Equal(t, 1, table.Sweep(t0.Add(61*time.Second)))
	assert.Equal(t, 0, table.Len())
}

func TestHandshakeTimeoutDefaultsToRetention(t *testing.T) {
	table := NewTable(TableConfig{})
	c := newConn(t, table)
	c.fromClient(t0, 1000, 0, syn, "")

	assert.Equal(t, 0, table.Sweep(t0.Add(61*time.Second)))
	assert.Equal(t, 0, table.Sweep(t0.Add(300*time.Second)))
	assert.Equal(t, 1, table.Sweep(t0.Add(301*time.Second)))
}

func TestTableFull(t *testing.T) {
	table := NewTable(TableConfig{MaxStreams: 1})
	newConn(t, table).fromClient(t0, 1000, 0, syn, "")

	ip := core.IPHeader{SrcIP: netip.MustParseAddr("10.0.0.9"), DstIP: netip.MustParseAddr("10.0.0.2")}
	tcp := core.TCPHeader{SrcPort: 4000, DstPort: 80, Flags: syn}
	res, err := table.Dispatch(ip, tcp, nil, nil, t0)
	assert.ErrorIs(t, err, core.ErrStreamTableFull)
	assert.Nil(t, res.Stream)
	assert.Equal(t, 1, table.Len())
}
