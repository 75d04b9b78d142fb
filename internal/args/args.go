// Package args captures the current process's command-line argument vector
// using the operating system's own tokenization rules.
package args

// Source yields an argument vector. The coordinator calls it once, at the
// moment a secondary instance signals the first one.
type Source func() []string

// Current returns the argument vector of this process, program path first.
// The returned slice is a copy and may be retained by the caller.
func Current() []string {
	return current()
}

// Fixed returns a Source that always yields a copy of vec.
func Fixed(vec ...string) Source {
	return func() []string {
		out := make([]string, len(vec))
		copy(out, vec)
		return out
	}
}

// Parse tokenizes a raw command line with the platform's native rules:
// CommandLineToArgvW semantics on Windows, POSIX shell quoting elsewhere.
// Quoted empty arguments ("") are preserved as empty strings.
func Parse(cmdline string) ([]string, error) {
	return parse(cmdline)
}
