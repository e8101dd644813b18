package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticUnit struct {
	name   string
	source SourceInfo
	items  []ExtractedItem
	err    error
}

func (u *staticUnit) Name() string                  { return u.name }
func (u *staticUnit) Source() SourceInfo            { return u.source }
func (u *staticUnit) Prepare(context.Context) error { return nil }

func (u *staticUnit) Fetch(context.Context) ([]ExtractedItem, error) {
	return u.items, u.err
}

func (u *staticUnit) PostProcess(_ context.Context, items []ExtractedItem) ([]ExtractedItem, error) {
	return items, nil
}

func staticConstructor(unit *staticUnit) Constructor {
	return func(_ FetchUnitConfig, _ *zap.Logger) (FetchUnit, error) {
		return unit, nil
	}
}

func TestRegistryCreateKnownUnit(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	want := &staticUnit{name: "nmpa_notices"}
	require.NoError(t, reg.Register("nmpa_notices", staticConstructor(want)))

	got, err := reg.Create("nmpa_notices", FetchUnitConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRegistryCreateUnknownUnit(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	_, err := reg.Create("ghost", FetchUnitConfig{}, zap.NewNop())
	require.ErrorIs(t, err, ErrUnitNotFound)
}

func TestRegistryRejectsEmptyRegistration(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.Error(t, reg.Register("", staticConstructor(&staticUnit{})))
	require.Error(t, reg.Register("unit", nil))
}

func TestRegistryAvailableSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, reg.Register(name, staticConstructor(&staticUnit{name: name})))
	}
	require.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Available())
}

func TestConstructorErrorIsWrapped(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	boom := errors.New("bad meta")
	require.NoError(t, reg.Register("broken", func(FetchUnitConfig, *zap.Logger) (FetchUnit, error) {
		return nil, boom
	}))

	_, err := reg.Create("broken", FetchUnitConfig{}, zap.NewNop())
	require.ErrorIs(t, err, boom)
}
