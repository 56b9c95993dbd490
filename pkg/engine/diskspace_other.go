//go:build !unix && !windows

package engine

func freeBytes(string) (uint64, error) {
	return 0, errFreeSpaceUnsupported
}
