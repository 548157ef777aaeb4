package remoteshell

import "os"

func findProcess(pid int) (*os.Process, error) {
	// On Unix, os.FindProcess always succeeds; the real check happens on
	// the first Signal call.
	return os.FindProcess(pid)
}
