package harvest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeNone},
		{"timeout message", errors.New("request timeout after 15s"), ErrorTypeTimeout},
		{"deadline", errors.New("context deadline exceeded"), ErrorTypeTimeout},
		{"forbidden", errors.New("unexpected status 403"), ErrorTypeAntiBot},
		{"precondition", errors.New("unexpected status 412"), ErrorTypeAntiBot},
		{"anti bot wall", errors.New("anti-crawler challenge page returned"), ErrorTypeAntiBot},
		{"parse", errors.New("parse detail page: invalid html"), ErrorTypeParseError},
		{"selector", errors.New("selector .list li matched nothing"), ErrorTypeParseError},
		{"missing key", errors.New(`no such key "items" in payload`), ErrorTypeParseError},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorTypeNetwork},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestFetchErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("unexpected status 412")
	err := &FetchError{Unit: "gov_bidding", URL: "https://example.com", Attempts: 4, Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "4 attempts")
	require.Equal(t, ErrorTypeAntiBot, ClassifyError(err))
}
