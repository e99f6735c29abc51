// Package validate checks stored records for structural damage, mainly
// identity keys written by older import tooling with looser derivation
// rules. The rebuilder's purge pre-pass uses it to drop rows that can never
// match a freshly derived key.
package validate

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

// ValidationError describes one structural defect in a stored record.
type ValidationError struct {
	Key     string
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %q: %s", e.Key, e.Field, e.Value, e.Message)
}

// Key validates the structural form of an identity key. A nil result means
// the key could have been produced by the current derivation rules.
func Key(key string) []ValidationError {
	fail := func(msg string) []ValidationError {
		return []ValidationError{{Key: key, Field: "identityKey", Value: key, Message: msg}}
	}

	prefix, value, ok := strings.Cut(key, ":")
	if !ok {
		return fail("missing prefix")
	}

	switch prefix {
	case "phone":
		if value == "" {
			return fail("empty phone")
		}
		for _, r := range value {
			if r < '0' || r > '9' {
				return fail("phone contains non-digits")
			}
		}
	case "email":
		if !strings.Contains(value, "@") {
			return fail("email missing @")
		}
	case "name":
		// name:<norm>|dob:<iso-or-nodob>
		name, dob, ok := strings.Cut(value, "|dob:")
		if !ok {
			return fail("missing dob segment")
		}
		if strings.TrimSpace(name) == "" {
			return fail("empty name")
		}
		if dob == "" {
			return fail("empty dob segment")
		}
	default:
		return fail("unknown prefix " + prefix)
	}
	return nil
}

// Client validates a consolidated record: its identity key, its status
// bucket and the cleared-means-zero relationship between bucket and balance.
func Client(c *domain.ConsolidatedClient) []ValidationError {
	errs := Key(c.IdentityKey)

	if c.Bucket != "" {
		if !domain.ValidateBucket(c.Bucket) {
			errs = append(errs, ValidationError{
				Key: c.IdentityKey, Field: "statusBucket",
				Value: string(c.Bucket), Message: "unknown bucket",
			})
		}
	}
	if c.Bucket == domain.BucketCleared && c.Balance != 0 {
		errs = append(errs, ValidationError{
			Key: c.IdentityKey, Field: "balance",
			Value:   fmt.Sprintf("%v", c.Balance),
			Message: "cleared record carries a balance",
		})
	}
	return errs
}
