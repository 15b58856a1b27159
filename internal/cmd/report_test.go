package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htbdesk/htb/internal/api"
	"github.com/htbdesk/htb/internal/task"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{name: "nil", err: nil},
		{name: "interrupted", err: context.Canceled},
		{name: "wrapped interrupt", err: fmt.Errorf("failed to load: %w", context.Canceled)},
		{name: "already reported", err: &ExitError{Code: exitFlagRejected}},
		{name: "plain", err: errors.New("boom"), want: []string{"Error: boom"}},
		{
			name: "unauthorized",
			err:  &api.Error{Kind: api.KindHTTP, Status: 401, Message: "Unauthenticated."},
			want: []string{"Error: Unauthenticated.", "htb token set"},
		},
		{
			name: "timeout",
			err:  &api.Error{Kind: api.KindTimeout, Message: api.TimeoutMessage},
			want: []string{"Error: Request timeout", "timeout"},
		},
		{
			name: "connection",
			err:  fmt.Errorf("failed to load dashboard: %w", &api.Error{Kind: api.KindConnection, Message: "Connection error: refused"}),
			want: []string{"Connection error: refused", "network connection"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			report(&buf, tt.err)
			if len(tt.want) == 0 {
				assert.Empty(t, buf.String())
				return
			}
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestExitCodeInterrupted(t *testing.T) {
	assert.Equal(t, exitInterrupted, ExitCode(context.Canceled))
	assert.Equal(t, exitInterrupted, ExitCode(fmt.Errorf("wrapped: %w", context.Canceled)))
}

func TestAwaitInterrupted(t *testing.T) {
	loop := task.NewLoop()
	a := &app{loop: loop, group: task.NewGroup(loop)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := await(ctx, a, "work", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, exitInterrupted, ExitCode(err))
	assert.False(t, a.group.Running("work"))
}
