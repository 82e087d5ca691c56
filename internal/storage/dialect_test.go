package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		driver           string
		wantDistinct     string
		wantErr          bool
		wantPlaceholders string
	}{
		"postgres": {
			driver:           DriverPostgres,
			wantDistinct:     "IS DISTINCT FROM",
			wantPlaceholders: "$3, $4, $5",
		},
		"sqlite": {
			driver:           DriverSQLite,
			wantDistinct:     "IS NOT",
			wantPlaceholders: "?, ?, ?",
		},
		"unsupported": {
			driver:  "postgres",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d, err := dialectFor(tc.driver)

			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantDistinct, d.distinct)
			require.Equal(t, tc.wantPlaceholders, d.placeholders(3, 3))
			require.NotEmpty(t, d.schema)
		})
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	require.Equal(t, `"accounts"`, quote("accounts"))
	require.Equal(t, `"row_1"`, quote("row_1"))
	require.Equal(t, `"odd""name"`, quote(`odd"name`))
}
