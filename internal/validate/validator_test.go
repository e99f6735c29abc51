package validate

import (
	"testing"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid phone", "phone:978559684", false},
		{"valid email", "email:agnes@example.com", false},
		{"valid name with dob", "name:agnes mwale|dob:1990-04-12", false},
		{"valid name without dob", "name:agnes mwale|dob:nodob", false},
		{"no prefix", "978559684", true},
		{"unknown prefix", "loan:12345", true},
		{"empty phone", "phone:", true},
		{"phone with letters", "phone:09785x9684", true},
		{"phone with plus", "phone:+260978559684", true},
		{"email without at", "email:agnes.example.com", true},
		{"name missing dob segment", "name:agnes mwale", true},
		{"empty name part", "name:|dob:nodob", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Key(tt.key)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("Key(%q) = %v, wantErr %v", tt.key, errs, tt.wantErr)
			}
		})
	}
}

func TestClient(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		errs := Client(&domain.ConsolidatedClient{
			IdentityKey: "phone:978559684",
			Bucket:      domain.BucketBalance,
			Balance:     450,
		})
		if len(errs) != 0 {
			t.Errorf("Client() = %v, want no errors", errs)
		}
	})

	t.Run("unknown bucket", func(t *testing.T) {
		errs := Client(&domain.ConsolidatedClient{
			IdentityKey: "phone:978559684",
			Bucket:      domain.StatusBucket("delinquent"),
		})
		if len(errs) != 1 || errs[0].Field != "statusBucket" {
			t.Errorf("Client() = %v, want one statusBucket error", errs)
		}
	})

	t.Run("cleared with balance", func(t *testing.T) {
		errs := Client(&domain.ConsolidatedClient{
			IdentityKey: "email:agnes@example.com",
			Bucket:      domain.BucketCleared,
			Balance:     120,
		})
		if len(errs) != 1 || errs[0].Field != "balance" {
			t.Errorf("Client() = %v, want one balance error", errs)
		}
	})

	t.Run("multiple defects accumulate", func(t *testing.T) {
		errs := Client(&domain.ConsolidatedClient{
			IdentityKey: "email:not-an-email",
			Bucket:      domain.BucketCleared,
			Balance:     5,
		})
		if len(errs) != 2 {
			t.Errorf("Client() = %v, want 2 errors", errs)
		}
	})
}
