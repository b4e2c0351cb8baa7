package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestTranslateConstraintError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"名前の一意制約", &pq.Error{Code: "23505", Constraint: "users_name_lower_key"}, ErrDuplicateName},
		{"メールの一意制約", &pq.Error{Code: "23505", Constraint: "users_email_key"}, ErrDuplicateEmail},
		{"外部IDの一意制約", &pq.Error{Code: "23505", Constraint: "users_external_id_key"}, ErrDuplicateExternalID},
		{"時間枠のCHECK制約", &pq.Error{Code: "23514", Constraint: "events_time_window_check"}, ErrInvalidWindow},
		{"ラップされた一意制約", fmt.Errorf("exec: %w", &pq.Error{Code: "23505", Constraint: "users_name_lower_key"}), ErrDuplicateName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateConstraintError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translateConstraintError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTranslateConstraintError_PassesThroughUnknown(t *testing.T) {
	unknown := &pq.Error{Code: "23505", Constraint: "some_other_key"}
	if got := translateConstraintError(unknown); got != error(unknown) {
		t.Errorf("expected unknown constraint error to pass through, got %v", got)
	}

	plain := errors.New("connection refused")
	if got := translateConstraintError(plain); got != plain {
		t.Errorf("expected non-pq error to pass through, got %v", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pq.Error{Code: "23505", Constraint: "event_attendance_pkey"}) {
		t.Error("expected primary key conflict to be a unique violation")
	}
	if !IsUniqueViolation(ErrDuplicateName) {
		t.Error("expected ErrDuplicateName to be a unique violation")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("foreign key violation must not be reported as unique violation")
	}
	if IsUniqueViolation(ErrInvalidWindow) {
		t.Error("check violation must not be reported as unique violation")
	}
}

func TestValidID(t *testing.T) {
	if !validID("3f1c2a9e-6a8b-4c1d-9e2f-0a1b2c3d4e5f") {
		t.Error("expected uuid to be valid")
	}
	if validID("not-a-uuid") || validID("") {
		t.Error("expected malformed ids to be invalid")
	}
}
