package decoder

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/core"
)

var (
	fragSrc = netip.MustParseAddr("10.0.0.1")
	fragDst = netip.MustParseAddr("10.0.0.2")
)

// buildIPv4Fragment returns the header of one fragment of datagram id.
// offset is in bytes and must be a multiple of 8.
func buildIPv4Fragment(id uint16, offset int, payloadLen int, moreFragments bool) core.IPHeader {
	flags := uint16(offset / 8)
	if moreFragments {
		flags |= 0x2000
	}
	return core.IPHeader{
		Version:         4,
		HeaderLen:       20,
		TotalLen:        uint16(20 + payloadLen),
		ID:              id,
		FlagsFragOffset: flags,
		TTL:             64,
		Protocol:        core.ProtocolTCP,
		SrcIP:           fragSrc,
		DstIP:           fragDst,
	}
}

type fragment struct {
	offset  int
	payload []byte
	more    bool
}

// threeFragments splits 20 bytes into {0,8} x 8 bytes plus a final 4 byte fragment at 16.
func threeFragments() ([]fragment, []byte) {
	full := []byte("ABCDEFGHIJKLMNOPQRST")
	return []fragment{
		{0, full[0:8], true},
		{8, full[8:16], true},
		{16, full[16:20], false},
	}, full
}

func feed(t *testing.T, r *Reassembler, id uint16, frags []fragment, now time.Time) ([]byte, bool) {
	t.Helper()
	var (
		out  []byte
		done bool
	)
	for i, f := range frags {
		data, ok, err := r.Process(buildIPv4Fragment(id, f.offset, len(f.payload), f.more), f.payload, now)
		require.NoError(t, err)
		if ok {
			require.Equal(t, len(frags)-1, i, "datagram completed before the last fragment")
			out, done = data, true
		}
	}
	return out, done
}

func TestReassemblerUnfragmentedPassthrough(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	payload := []byte("whole datagram")
	ip := buildIPv4Fragment(1, 0, len(payload), false)

	data, ok, err := r.Process(ip, payload, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, data)
	assert.Equal(t, 0, r.Len(), "unfragmented packets must not create state")
}

func TestReassemblerAnyArrivalOrder(t *testing.T) {
	frags, want := threeFragments()
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	for _, order := range orders {
		r := NewReassembler(ReassemblyConfig{})
		permuted := make([]fragment, 0, len(order))
		for _, i := range order {
			permuted = append(permuted, frags[i])
		}

		got, ok := feed(t, r, 42, permuted, time.Now())
		if !ok {
			t.Fatalf("order %v: datagram not completed", order)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("order %v: expected %q, got %q", order, want, got)
		}
		if r.Len() != 0 {
			t.Errorf("order %v: set not released after completion", order)
		}
	}
}

func TestReassemblerIncompleteSubsets(t *testing.T) {
	frags, _ := threeFragments()
	subsets := [][]int{{0}, {1}, {2}, {0, 1}, {0, 2}, {1, 2}}

	for _, subset := range subsets {
		r := NewReassembler(ReassemblyConfig{})
		for _, i := range subset {
			f := frags[i]
			data, ok, err := r.Process(buildIPv4Fragment(7, f.offset, len(f.payload), f.more), f.payload, time.Now())
			require.NoError(t, err)
			if ok || data != nil {
				t.Errorf("subset %v: unexpected output %q", subset, data)
			}
		}
		assert.Equal(t, 1, r.Len())
	}
}

func TestReassemblerOverlapDoesNotDuplicate(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()

	// 0..16 then 8..24 (final): the overlap must be written once
	first := []byte("0123456789abcdef")
	second := []byte("89abcdefXYZWVUTS")

	_, ok, err := r.Process(buildIPv4Fragment(9, 0, len(first), true), first, now)
	require.NoError(t, err)
	require.False(t, ok)

	data, ok, err := r.Process(buildIPv4Fragment(9, 8, len(second), false), second, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("0123456789abcdefXYZWVUTS"), data)
}

func TestReassemblerDuplicateOffsetOverwrites(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()

	_, _, err := r.Process(buildIPv4Fragment(3, 0, 8, true), []byte("oldoldol"), now)
	require.NoError(t, err)
	_, _, err = r.Process(buildIPv4Fragment(3, 0, 8, true), []byte("newnewne"), now)
	require.NoError(t, err)

	data, ok, err := r.Process(buildIPv4Fragment(3, 8, 2, false), []byte("!!"), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("newnewne!!"), data)
}

func TestReassemblerCopiesInput(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()

	buf := []byte("ABCDEFGH")
	_, _, err := r.Process(buildIPv4Fragment(5, 0, 8, true), buf, now)
	require.NoError(t, err)
	copy(buf, "XXXXXXXX") // capture buffer reused

	data, ok, err := r.Process(buildIPv4Fragment(5, 8, 2, false), []byte("IJ"), now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ABCDEFGHIJ"), data)
}

func TestReassemblerKeySeparation(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()

	_, _, err := r.Process(buildIPv4Fragment(100, 0, 8, true), []byte("AAAAAAAA"), now)
	require.NoError(t, err)
	// Same offsets, different identification: must not complete datagram 100
	data, ok, err := r.Process(buildIPv4Fragment(101, 8, 2, false), []byte("BB"), now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
	assert.Equal(t, 2, r.Len())
}

func TestReassemblerCleanupExpiry(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{Timeout: 30 * time.Second})
	frags, want := threeFragments()
	start := time.Unix(1_700_000_000, 0)

	_, ok := feed(t, r, 11, frags[:2], start)
	require.False(t, ok)

	assert.Equal(t, 0, r.Cleanup(start.Add(30*time.Second)), "set exactly at the timeout is kept")
	assert.Equal(t, 1, r.Cleanup(start.Add(31*time.Second)))
	assert.Equal(t, 0, r.Len())

	// The final fragment now starts a fresh set and cannot complete on its own
	later := start.Add(32 * time.Second)
	data, ok, err := r.Process(buildIPv4Fragment(11, 16, 4, false), frags[2].payload, later)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	got, ok := feed(t, r, 11, frags[:2], later)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestReassemblerCleanupKeepsFreshSets(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{Timeout: 10 * time.Second})
	start := time.Unix(1_700_000_000, 0)

	_, _, err := r.Process(buildIPv4Fragment(1, 0, 8, true), []byte("AAAAAAAA"), start)
	require.NoError(t, err)
	// A later fragment refreshes the set
	_, _, err = r.Process(buildIPv4Fragment(1, 16, 8, true), []byte("CCCCCCCC"), start.Add(8*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 0, r.Cleanup(start.Add(15*time.Second)))
	assert.Equal(t, 1, r.Len())
}

func TestReassemblerSecurityLimits(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ReassemblyConfig
		ip     core.IPHeader
		size   int
		target error
	}{
		{
			name:   "EmptyFragment",
			ip:     buildIPv4Fragment(1, 8, 0, true),
			size:   0,
			target: core.ErrPacketTooShort,
		},
		{
			name:   "PastMaxDatagramSize",
			ip:     buildIPv4Fragment(1, 65528, 16, false),
			size:   16,
			target: core.ErrReassemblyLimit,
		},
		{
			name:   "ConfiguredMaxDatagramSize",
			cfg:    ReassemblyConfig{MaxDatagramSize: 1000},
			ip:     buildIPv4Fragment(1, 992, 16, false),
			size:   16,
			target: core.ErrReassemblyLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(tt.cfg)
			_, ok, err := r.Process(tt.ip, make([]byte, tt.size), time.Now())
			assert.False(t, ok)
			if !errors.Is(err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, err)
			}
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestReassemblerMaxFragmentsDropsSet(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{MaxFragments: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, _, err := r.Process(buildIPv4Fragment(8, i*16, 8, true), make([]byte, 8), now)
		require.NoError(t, err)
	}
	_, ok, err := r.Process(buildIPv4Fragment(8, 48, 8, true), make([]byte, 8), now)
	assert.False(t, ok)
	assert.ErrorIs(t, err, core.ErrReassemblyLimit)
	assert.Equal(t, 0, r.Len(), "violating set must be dropped")
}

func TestReassemblerRateLimit(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{MaxFragsPerIP: 2, RateLimitWindow: time.Second})
	now := time.Now()

	for i := 0; i < 2; i++ {
		_, _, err := r.Process(buildIPv4Fragment(uint16(i), 0, 8, true), make([]byte, 8), now)
		require.NoError(t, err)
	}
	_, _, err := r.Process(buildIPv4Fragment(9, 0, 8, true), make([]byte, 8), now)
	assert.ErrorIs(t, err, core.ErrReassemblyLimit)
	assert.Equal(t, int64(1), r.RateLimited())

	// New window
	_, _, err = r.Process(buildIPv4Fragment(9, 0, 8, true), make([]byte, 8), now.Add(time.Second))
	assert.NoError(t, err)
}
