package afpacket

import (
	"fmt"

	"github.com/c2h5oh/datasize"
)

// recomputeSize derives a TPACKET ring geometry from a memory budget.
//
// AF_PACKET PACKET_MMAP requires:
// 1. frameSize must be a multiple of TPACKET_ALIGNMENT (16 bytes)
// 2. blockSize must be a multiple of pageSize
// 3. blockSize must be a multiple of frameSize
// 4. blockSize * numBlocks should approximate the budget
func recomputeSize(budget datasize.ByteSize, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52 // TPACKET3_HDRLEN, approximate
	const maxBlockSize = 4 * 1024 * 1024

	if budget == 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive")
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snapLen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("pageSize must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// Fit as many whole frames as a 4MB block allows, then round up to a page
		blockSize = alignUp(max(maxBlockSize/frameSize, 1)*frameSize, pageSize)
	}

	numBlocks = max(int(budget.Bytes())/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
