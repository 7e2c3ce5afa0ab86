package clidispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/canonical/livefs-editor/internal/livefs"
)

func testRegistry() Registry {
	return Registry{
		"foo": func(ctx context.Context, s *livefs.Session, args []string) error { return nil },
		"bar": func(ctx context.Context, s *livefs.Session, args []string) error { return nil },
	}
}

func TestParseProducesInOrderInvocations(t *testing.T) {
	invocations, err := Parse(testRegistry(), []string{"--foo", "a", "b", "--bar", "c"})
	require.NoError(t, err)
	require.Len(t, invocations, 2)
	require.Equal(t, "foo", invocations[0].Name)
	require.Equal(t, []string{"a", "b"}, invocations[0].Args)
	require.Equal(t, "bar", invocations[1].Name)
	require.Equal(t, []string{"c"}, invocations[1].Args)
}

func TestParseRejectsUnknownAction(t *testing.T) {
	_, err := Parse(testRegistry(), []string{"--nope", "x"})
	require.Error(t, err)
	var argErr *livefs.ArgError
	require.ErrorAs(t, err, &argErr)
	require.Equal(t, "nope", argErr.Action)
}

func TestDispatchRunsInOrder(t *testing.T) {
	var order []string
	registry := Registry{
		"foo": func(ctx context.Context, s *livefs.Session, args []string) error {
			order = append(order, "foo")
			return nil
		},
		"bar": func(ctx context.Context, s *livefs.Session, args []string) error {
			order = append(order, "bar")
			return nil
		},
	}
	invocations, err := Parse(registry, []string{"--foo", "--bar"})
	require.NoError(t, err)
	require.NoError(t, Dispatch(context.Background(), registry, nil, invocations))
	require.Equal(t, []string{"foo", "bar"}, order)
}
