package htb

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Dashboard bundles what the landing view shows. Parts whose call failed are
// left nil and their errors collected in Failures.
type Dashboard struct {
	User          *User
	ActiveMachine *ActiveMachine
	Connection    *Connection
	Failures      []error
}

// LoadDashboard fetches user info, the active machine and connection status
// concurrently. It fails only when all three calls fail.
func (s *Service) LoadDashboard(ctx context.Context) (*Dashboard, error) {
	var (
		d                        Dashboard
		userErr, machErr, conErr error
		conns                    []Connection
	)

	// Each part fails on its own: goroutines record their error and return
	// nil so one failure neither cancels the others nor surfaces from Wait.
	var g errgroup.Group
	g.Go(func() error {
		d.User, userErr = s.UserInfo(ctx)
		return nil
	})
	g.Go(func() error {
		d.ActiveMachine, machErr = s.ActiveMachine(ctx)
		return nil
	})
	g.Go(func() error {
		conns, conErr = s.ConnectionStatus(ctx)
		return nil
	})
	_ = g.Wait()

	if len(conns) > 0 {
		d.Connection = &conns[0]
	}

	for _, err := range []error{userErr, machErr, conErr} {
		if err != nil {
			d.Failures = append(d.Failures, err)
		}
	}
	if len(d.Failures) == 3 {
		return nil, fmt.Errorf("failed to load dashboard: %w", errors.Join(d.Failures...))
	}
	return &d, nil
}
