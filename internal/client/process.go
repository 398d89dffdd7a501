package client

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/process"
)

// KillTree kills pid and all of its descendants, children first. A process
// that is already gone is not an error.
func KillTree(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return nil
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	return killTree(ctx, p)
}

func killTree(ctx context.Context, p *process.Process) error {
	var errs []error
	children, err := p.ChildrenWithContext(ctx)
	if err != nil && !errors.Is(err, process.ErrorNoChildren) {
		errs = append(errs, err)
	}
	for _, child := range children {
		if err := killTree(ctx, child); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.KillWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); running {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ProcessAlive reports whether pid names a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
