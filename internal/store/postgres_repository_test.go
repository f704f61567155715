package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapConflictErr(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantConflict bool
	}{
		{
			name:         "serialization failure becomes retryable",
			err:          &pgconn.PgError{Code: "40001"},
			wantConflict: true,
		},
		{
			name:         "deadlock becomes retryable",
			err:          &pgconn.PgError{Code: "40P01"},
			wantConflict: true,
		},
		{
			name:         "unique violation passes through",
			err:          &pgconn.PgError{Code: "23505"},
			wantConflict: false,
		},
		{
			name:         "plain error passes through",
			err:          errors.New("connection reset"),
			wantConflict: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapConflictErr(tt.err)
			if tt.wantConflict != errors.Is(got, ErrSerializationFailed) {
				t.Fatalf("expected conflict=%t, got error %v", tt.wantConflict, got)
			}
			if !tt.wantConflict && !errors.Is(got, tt.err) && got.Error() != tt.err.Error() {
				t.Fatalf("non-conflict error must pass through unchanged, got %v", got)
			}
		})
	}
}
