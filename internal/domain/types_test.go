package domain

import "testing"

func TestBucketFor(t *testing.T) {
	tests := []struct {
		status string
		want   StatusBucket
	}{
		{"Current", BucketBalance},
		{"Defaulted", BucketBalance},
		{"Past Maturity", BucketBalance},
		{"Missed", BucketBalance},
		{"Fully Paid", BucketCleared},
		{"FULLY PAID", BucketCleared},
		{"Settled", BucketCleared},
		{"Account Closed", BucketCleared},
		{"Restructured", BucketExtended},
		{"Loan Rolled Over", BucketExtended},
		{"Rescheduled - fees paid", BucketExtended}, // extension outranks cleared
		{"", BucketBalance},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := BucketFor(tt.status); got != tt.want {
				t.Errorf("BucketFor(%q) = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestUnpaidAmount(t *testing.T) {
	rec := LedgerRecord{
		Status:          "Current",
		AmortizationDue: 200,
		InterestBalance: 50,
		Penalty:         25,
	}
	if got := rec.UnpaidAmount(); got != 275 {
		t.Errorf("UnpaidAmount() = %v, want 275", got)
	}

	rec.Status = "Fully Paid"
	if got := rec.UnpaidAmount(); got != 0 {
		t.Errorf("UnpaidAmount() for paid loan = %v, want 0", got)
	}

	rec.Status = "Write-Off"
	if got := rec.UnpaidAmount(); got != 0 {
		t.Errorf("UnpaidAmount() for write-off = %v, want 0", got)
	}
}

func TestValidateBucket(t *testing.T) {
	for _, b := range []StatusBucket{BucketBalance, BucketCleared, BucketExtended} {
		if !ValidateBucket(b) {
			t.Errorf("ValidateBucket(%s) = false, want true", b)
		}
	}
	if ValidateBucket("open") {
		t.Error("ValidateBucket(open) = true, want false")
	}
}
