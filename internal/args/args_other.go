//go:build !windows

package args

import (
	"fmt"
	"os"

	"github.com/kballard/go-shellquote"
)

// current returns os.Args. On POSIX systems the kernel hands the process an
// already tokenized vector, so there is nothing left to split.
func current() []string {
	out := make([]string, len(os.Args))
	copy(out, os.Args)
	return out
}

func parse(cmdline string) ([]string, error) {
	words, err := shellquote.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("parse command line: %w", err)
	}
	if words == nil {
		words = []string{}
	}
	return words, nil
}
