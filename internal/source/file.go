package source

import (
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/crossing.report/internal/security"
)

func checkPath(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}
	if err := security.ValidatePathWithinDirectory(path, baseDir); err != nil {
		return Permanent(err)
	}
	return nil
}

// OpenFile replays a newline-delimited JSON recording. Next returns io.EOF
// after the last line.
func OpenFile(path string, opts Options) (FrameSource, error) {
	if err := checkPath(path, opts.BaseDir); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Permanent(fmt.Errorf("open recording: %w", err))
		}
		return nil, fmt.Errorf("open recording: %w", err)
	}
	return newLineSource(f, io.EOF, opts.clock()), nil
}
