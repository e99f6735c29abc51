// Package normalize turns one raw extract row into a canonical ledger
// record and derives its stable borrower identity key.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

// ErrNoIdentity marks a row that carries no identity attribute at all
// (no phone, no email, no name). Such rows cannot be consolidated.
var ErrNoIdentity = errors.New("row has no identity attributes")

// Canonical field names after header reconciliation.
const (
	fieldName            = "name"
	fieldPhone           = "phone"
	fieldEmail           = "email"
	fieldAddress         = "address"
	fieldDateOfBirth     = "date_of_birth"
	fieldStatus          = "status"
	fieldPrincipal       = "principal"
	fieldInterestBalance = "interest_balance"
	fieldAmortizationDue = "amortization_due"
	fieldPenalty         = "penalty"
	fieldNextInstallment = "next_installment"
	fieldNextDueDate     = "next_due_date"
	fieldBranch          = "branch"
	fieldBalance         = "balance"
	fieldStatementDate   = "statement_date"
	fieldReportDate      = "report_date"
	fieldAsAtDate        = "as_at_date"
)

// headerAliases reconciles the header-name variants seen across branch
// exports (typos, casing and alternate spellings included). Keys are in
// canonical header form: lowercased with runs of punctuation collapsed to
// single spaces.
var headerAliases = map[string]string{
	"name": fieldName, "names": fieldName, "client name": fieldName,
	"customer name": fieldName, "borrower": fieldName, "borrower name": fieldName,
	"full name": fieldName, "client": fieldName,

	"phone": fieldPhone, "phone number": fieldPhone, "phone no": fieldPhone,
	"mobile": fieldPhone, "mobile number": fieldPhone, "contact": fieldPhone,
	"contact number": fieldPhone, "cell": fieldPhone, "telephone": fieldPhone,

	"email": fieldEmail, "e mail": fieldEmail, "emali": fieldEmail,
	"email address": fieldEmail, "mail": fieldEmail,

	"address": fieldAddress, "physical address": fieldAddress, "location": fieldAddress,

	"date of birth": fieldDateOfBirth, "dob": fieldDateOfBirth,
	"birth date": fieldDateOfBirth, "birthdate": fieldDateOfBirth,

	"loan status": fieldStatus, "status": fieldStatus, "account status": fieldStatus,

	"principal": fieldPrincipal, "principal amount": fieldPrincipal,
	"loan amount": fieldPrincipal, "principal balance": fieldPrincipal,

	"interest balance": fieldInterestBalance, "interest": fieldInterestBalance,
	"interest bal": fieldInterestBalance, "outstanding interest": fieldInterestBalance,

	"amortization due": fieldAmortizationDue, "amortisation due": fieldAmortizationDue,
	"amortization": fieldAmortizationDue, "amortisation": fieldAmortizationDue,
	"amort due": fieldAmortizationDue, "installment due": fieldAmortizationDue,
	"instalment due": fieldAmortizationDue,

	"penalty": fieldPenalty, "penalties": fieldPenalty,
	"penalty balance": fieldPenalty, "penalty charges": fieldPenalty,

	"next installment": fieldNextInstallment, "next instalment": fieldNextInstallment,
	"installment amount": fieldNextInstallment, "instalment amount": fieldNextInstallment,
	"next installment amount": fieldNextInstallment,

	"next due date": fieldNextDueDate, "due date": fieldNextDueDate, "next due": fieldNextDueDate,

	"branch": fieldBranch, "branch id": fieldBranch, "branch code": fieldBranch,
	"originating branch": fieldBranch,

	"balance": fieldBalance, "loan balance": fieldBalance,
	"outstanding balance": fieldBalance, "total balance": fieldBalance,
	"current balance": fieldBalance, "balance due": fieldBalance,

	"statement date": fieldStatementDate, "stmt date": fieldStatementDate,

	"report date": fieldReportDate, "reporting date": fieldReportDate,

	"as at": fieldAsAtDate, "as at date": fieldAsAtDate,
	"as of": fieldAsAtDate, "as of date": fieldAsAtDate,
}

// Options configures per-deployment defaults that used to be hardcoded in
// the branch export tooling.
type Options struct {
	// DefaultBranchID is assigned to rows whose extract carries no branch column.
	DefaultBranchID string
	// PhoneCountryCode is the dialing prefix stripped during phone
	// normalization (e.g., "260"), so local and international renderings of
	// the same number produce one identity key.
	PhoneCountryCode string
	// Now supplies the processing timestamp; defaults to time.Now.
	Now func() time.Time
}

// Normalizer converts raw field maps into domain.LedgerRecord values.
type Normalizer struct {
	defaultBranch string
	countryCode   string
	now           func() time.Time
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		defaultBranch: opts.DefaultBranchID,
		countryCode:   opts.PhoneCountryCode,
		now:           now,
	}
}

// Normalize converts one raw row. It returns ErrNoIdentity (wrapped) when
// the row has no identity attribute; every other oddity degrades to a
// conservative default instead of failing, because statement extracts are
// noisy and a single bad cell must not abort the run.
func (n *Normalizer) Normalize(row map[string]string) (*domain.LedgerRecord, error) {
	fields := reconcileHeaders(row)
	processedAt := n.now()

	rec := &domain.LedgerRecord{
		Name:            fields[fieldName],
		Phone:           fields[fieldPhone],
		Email:           fields[fieldEmail],
		Address:         fields[fieldAddress],
		Status:          fields[fieldStatus],
		Principal:       parseAmount(fields[fieldPrincipal]),
		InterestBalance: parseAmount(fields[fieldInterestBalance]),
		AmortizationDue: parseAmount(fields[fieldAmortizationDue]),
		Penalty:         parseAmount(fields[fieldPenalty]),
		NextInstallment: parseAmount(fields[fieldNextInstallment]),
		BranchID:        fields[fieldBranch],
		ImportedAt:      processedAt,
	}
	if rec.BranchID == "" {
		rec.BranchID = n.defaultBranch
	}

	if dob, ok := parseDate(fields[fieldDateOfBirth]); ok {
		rec.DateOfBirth = dob.Format("2006-01-02")
	}
	nextDue, hasNextDue := parseDate(fields[fieldNextDueDate])
	if hasNextDue {
		rec.NextDueDate = nextDue.Format("2006-01-02")
	}

	key, err := n.identityKey(rec)
	if err != nil {
		return nil, err
	}
	rec.IdentityKey = key

	rec.Balance = n.deriveBalance(rec, fields)
	rec.Bucket = domain.BucketFor(rec.Status)
	rec.EffectiveDate = n.effectiveDate(fields, nextDue, hasNextDue, processedAt)

	return rec, nil
}

// identityKey derives the stable borrower key with the fixed priority
// order: normalized phone, then lowercased email, then name plus date of
// birth as a last resort.
func (n *Normalizer) identityKey(rec *domain.LedgerRecord) (string, error) {
	if phone := NormalizePhone(rec.Phone, n.countryCode); phone != "" {
		return "phone:" + phone, nil
	}
	if rec.Email != "" {
		return "email:" + strings.ToLower(rec.Email), nil
	}
	if name := NormalizeName(rec.Name); name != "" {
		dob := rec.DateOfBirth
		if dob == "" {
			dob = "nodob"
		}
		return fmt.Sprintf("name:%s|dob:%s", name, dob), nil
	}
	return "", fmt.Errorf("%w: name=%q phone=%q email=%q", ErrNoIdentity, rec.Name, rec.Phone, rec.Email)
}

// deriveBalance applies the priority chain: an explicit balance-like
// column wins; otherwise the canonical unpaid amount (amortization due +
// interest balance + penalty). A cleared or written-off loan is always 0,
// whatever the columns say.
func (n *Normalizer) deriveBalance(rec *domain.LedgerRecord, fields map[string]string) float64 {
	if domain.IsCleared(rec.Status) || domain.IsWriteOff(rec.Status) {
		return 0
	}
	if raw, ok := fields[fieldBalance]; ok && raw != "" {
		return parseAmount(raw)
	}
	return rec.UnpaidAmount()
}

// effectiveDate picks the most specific "as of" date on the row, falling
// back to the processing timestamp only when the row carries none.
func (n *Normalizer) effectiveDate(fields map[string]string, nextDue time.Time, hasNextDue bool, processedAt time.Time) time.Time {
	for _, f := range []string{fieldStatementDate, fieldReportDate, fieldAsAtDate} {
		if d, ok := parseDate(fields[f]); ok {
			return d
		}
	}
	if hasNextDue {
		return nextDue
	}
	return processedAt
}

// reconcileHeaders maps raw header variants onto canonical field names,
// trimming values and dropping empties (empty string means absent).
func reconcileHeaders(row map[string]string) map[string]string {
	fields := make(map[string]string, len(row))
	for rawKey, rawVal := range row {
		canonical, ok := headerAliases[canonicalHeader(rawKey)]
		if !ok {
			continue
		}
		val := strings.TrimSpace(rawVal)
		if val == "" {
			continue
		}
		// First non-empty value wins when two variant columns collide.
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = val
		}
	}
	return fields
}

var headerPunct = regexp.MustCompile(`[^a-z0-9]+`)

func canonicalHeader(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = headerPunct.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone strips all non-digits and reduces the number to one
// canonical local form: the country dialing prefix and leading zeros are
// removed, so "0978559684", "978559684" and "260978559684" all normalize
// to "978559684".
func NormalizePhone(raw, countryCode string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return ""
	}
	if countryCode != "" && strings.HasPrefix(digits, countryCode) && len(digits)-len(countryCode) >= 9 {
		digits = digits[len(countryCode):]
	}
	digits = strings.TrimLeft(digits, "0")
	return digits
}

// NormalizeName lowercases, strips diacritics and collapses whitespace so
// that spelling-equivalent names key identically.
func NormalizeName(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, raw)
	if err != nil {
		normalized = raw
	}
	return strings.Join(strings.Fields(strings.ToLower(normalized)), " ")
}

// parseAmount coerces a money cell: thousands separators are stripped and
// the rest parsed as a float. Unparseable values become 0, the conservative
// default for a money field in a noisy extract.
func parseAmount(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	s = strings.NewReplacer(",", "", " ", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// dateLayouts covers ISO plus the D/M/YYYY family used by branch exports.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2/1/2006",
	"2-1-2006",
	"2/1/06",
}

// parseDate parses the supported date forms. Two-digit years are assumed
// to be 20xx. Unparseable dates are reported absent, never an error.
func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() < 2000 && strings.HasSuffix(layout, "/06") {
			t = t.AddDate(100, 0, 0)
		}
		return t, true
	}
	return time.Time{}, false
}
