package gevio_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gevio/gevio"
)

func TestScopeExpiryIsIdentity(t *testing.T) {
	h, main := newTestHub(t)

	scope := gevio.NewScope(h, main, nil).Start(10 * time.Millisecond)
	defer scope.Close()

	err := gevio.Sleep(h, main, time.Hour)
	require.Error(t, err)
	require.True(t, scope.Is(err))

	other := gevio.NewScope(h, main, nil)
	require.False(t, other.Is(err))
}

func TestNestedScopesDoNotCrossMatch(t *testing.T) {
	h, main := newTestHub(t)

	outer := gevio.NewScope(h, main, nil).Start(time.Hour)
	defer outer.Close()

	inner := gevio.NewScope(h, main, nil).Start(10 * time.Millisecond)
	defer inner.Close()

	err := gevio.Sleep(h, main, time.Hour)
	require.True(t, inner.Is(err))
	require.False(t, outer.Is(err))
}

func TestWithTimeoutSubstitutesValue(t *testing.T) {
	h, main := newTestHub(t)

	v, err := gevio.WithTimeout(h, main, 10*time.Millisecond, "fallback", func() (any, error) {
		return nil, gevio.Sleep(h, main, time.Hour)
	})
	require.NoError(t, err)
	require.Equal(t, "fallback", v)
}

func TestWithTimeoutReraisesWithoutValue(t *testing.T) {
	h, main := newTestHub(t)

	_, err := gevio.WithTimeout(h, main, 10*time.Millisecond, gevio.NoTimeoutValue, func() (any, error) {
		return nil, gevio.Sleep(h, main, time.Hour)
	})
	require.Error(t, err)
}
