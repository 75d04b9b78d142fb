//go:build windows

package args

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// current re-reads the raw command line and splits it with
// CommandLineToArgvW so that forwarded arguments match what the shell passed,
// including empty quoted arguments. Falls back to os.Args if the OS call fails.
func current() []string {
	raw := windows.UTF16PtrToString(windows.GetCommandLine())
	vec, err := windows.DecomposeCommandLine(raw)
	if err != nil || len(vec) == 0 {
		out := make([]string, len(os.Args))
		copy(out, os.Args)
		return out
	}
	return vec
}

func parse(cmdline string) ([]string, error) {
	if cmdline == "" {
		return []string{}, nil
	}
	vec, err := windows.DecomposeCommandLine(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	return vec, nil
}
