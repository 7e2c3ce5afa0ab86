package livefs

import (
	"context"
	"fmt"
	"strings"
)

// LoopDevice is a kernel loop device attached to a backing file, registered for detach on session teardown.
type LoopDevice struct {
	DevicePath  string
	BackingFile string
}

// AddLoop attaches file to a free loop device with partition scanning
// enabled and waits for udev to settle before returning, so partition
// device nodes exist by the time the caller probes them.
func (s *Session) AddLoop(ctx context.Context, file string) (*LoopDevice, error) {
	result, err := s.runner.Run(ctx, []string{"losetup", "--show", "-f", "-P", file}, RunOptions{})
	if err != nil {
		return nil, err
	}

	devicePath := strings.TrimSpace(result.Stdout)
	if devicePath == "" {
		return nil, fmt.Errorf("losetup did not report an attached device path")
	}

	if _, err := s.runner.Run(ctx, []string{"udevadm", "settle"}, RunOptions{}); err != nil {
		return nil, err
	}

	loop := &LoopDevice{DevicePath: devicePath, BackingFile: file}
	s.loops = append(s.loops, loop)
	return loop, nil
}
