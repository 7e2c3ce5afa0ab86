package livefs

import (
	"context"
	"errors"
	"os"
)

// registerMount appends mp to the mount registry in creation order.
func (s *Session) registerMount(mp *Mountpoint) {
	s.mounts = append(s.mounts, mp)
}

// swapRegisteredMount replaces the registry entry for old with replacement,
// used when AddOverlay wraps the Mountpoint AddMount already registered
// inside an OverlayMount.
func (s *Session) swapRegisteredMount(old, replacement *Mountpoint) {
	for i, mp := range s.mounts {
		if mp == old {
			s.mounts[i] = replacement
			return
		}
	}
}

func (s *Session) deregisterMount(mp *Mountpoint) {
	for i, m := range s.mounts {
		if m == mp {
			s.mounts = append(s.mounts[:i], s.mounts[i+1:]...)
			return
		}
	}
}

// AddPreRepackHook registers a deferred mutation to run, in strict
// reverse registration order, just before repack.
func (s *Session) AddPreRepackHook(hook func(ctx context.Context) error) {
	s.hooks = append(s.hooks, hook)
}

// runPreRepackHooks runs every registered hook in LIFO order, aborting
// on the first failure.
func (s *Session) runPreRepackHooks(ctx context.Context) error {
	for i := len(s.hooks) - 1; i >= 0; i-- {
		if err := s.hooks[i](ctx); err != nil {
			return err
		}
	}
	return nil
}

// Teardown releases every resource the session owns, in reverse order:
// mounts (best-effort, falling back to lazy unmount), then the session
// root directory tree, then loop devices. It always runs to
// completion, aggregating rather than stopping on individual failures,
// and must be called even when action execution or repack failed.
func (s *Session) Teardown(ctx context.Context) error {
	var errs []error

	for i := len(s.mounts) - 1; i >= 0; i-- {
		mp := s.mounts[i]
		if err := s.teardownMount(ctx, mp); err != nil {
			errs = append(errs, err)
		}
	}
	s.mounts = nil

	if s.root != "" {
		if err := os.RemoveAll(s.root); err != nil {
			errs = append(errs, err)
		}
	}

	for i := len(s.loops) - 1; i >= 0; i-- {
		loop := s.loops[i]
		if _, err := s.runner.Run(ctx, []string{"losetup", "-d", loop.DevicePath}, RunOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	s.loops = nil

	return errors.Join(errs...)
}

// teardownMount detaches shared-subtree propagation then attempts a
// recursive unmount; on failure it degrades to a lazy unmount rather
// than failing the whole teardown.
func (s *Session) teardownMount(ctx context.Context, mp *Mountpoint) error {
	checkFalse := false
	if _, err := s.runner.Run(ctx, []string{"mount", "--make-rprivate", mp.Path}, RunOptions{Check: &checkFalse}); err != nil {
		return err
	}

	result, err := s.runner.Run(ctx, []string{"umount", "-R", mp.Path}, RunOptions{Check: &checkFalse})
	if err != nil {
		return err
	}
	if result.ExitCode == 0 {
		return nil
	}

	_, err = s.runner.Run(ctx, []string{"umount", "-l", mp.Path}, RunOptions{Check: &checkFalse})
	return err
}
