package healthcard

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	publicPathPrefix    = "/card/"
)

var (
	// ErrInvalidAccountID indicates that an account identifier is empty or exceeds storage bounds.
	ErrInvalidAccountID = errors.New("healthcard: invalid account id")
	// ErrInvalidBloodGroup indicates that a blood group is outside the supported set.
	ErrInvalidBloodGroup = errors.New("healthcard: invalid blood group")
)

// AccountID represents a validated reference to an authenticated identity.
type AccountID string

// NewAccountID validates raw input and returns an AccountID.
func NewAccountID(rawInput string) (AccountID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAccountID, maxIdentifierLength)
	}
	return AccountID(trimmed), nil
}

// String returns the underlying identifier.
func (id AccountID) String() string {
	return string(id)
}

// PublicPathFor derives the stable public pointer path of an account.
func PublicPathFor(account AccountID) string {
	return publicPathPrefix + url.PathEscape(account.String())
}

// BloodGroup enumerates the supported ABO/Rh groups.
type BloodGroup string

const (
	BloodGroupAPositive  BloodGroup = "A+"
	BloodGroupANegative  BloodGroup = "A-"
	BloodGroupBPositive  BloodGroup = "B+"
	BloodGroupBNegative  BloodGroup = "B-"
	BloodGroupABPositive BloodGroup = "AB+"
	BloodGroupABNegative BloodGroup = "AB-"
	BloodGroupOPositive  BloodGroup = "O+"
	BloodGroupONegative  BloodGroup = "O-"
)

// BloodGroups lists the supported groups in display order.
func BloodGroups() []BloodGroup {
	return []BloodGroup{
		BloodGroupAPositive, BloodGroupANegative,
		BloodGroupBPositive, BloodGroupBNegative,
		BloodGroupABPositive, BloodGroupABNegative,
		BloodGroupOPositive, BloodGroupONegative,
	}
}

// ParseBloodGroup validates raw input. An empty input yields the unset group.
func ParseBloodGroup(rawInput string) (BloodGroup, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", nil
	}
	group := BloodGroup(trimmed)
	if !group.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBloodGroup, rawInput)
	}
	return group, nil
}

// Valid reports whether the group is one of the supported values.
func (g BloodGroup) Valid() bool {
	for _, candidate := range BloodGroups() {
		if candidate == g {
			return true
		}
	}
	return false
}

func (g BloodGroup) String() string {
	return string(g)
}

// Document is a named reference to an uploaded medical document.
type Document struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Record is the canonical health record of one account.
type Record struct {
	AccountID         AccountID
	Name              string
	Age               int
	BloodGroup        BloodGroup
	EmergencyContact  string
	Allergies         string
	MedicalConditions string
	Medications       string
	AdditionalNotes   string
	HealthReportLinks []string
	AvatarURL         string
	Documents         []Document
	PublicPath        string
	UpdatedAt         time.Time
}

// EmptyRecord returns a record with no field values and the account's public path assigned.
func EmptyRecord(account AccountID) Record {
	record := Record{AccountID: account}
	if account != "" {
		record.PublicPath = PublicPathFor(account)
	}
	return record
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cloned := r
	if r.HealthReportLinks != nil {
		cloned.HealthReportLinks = append([]string(nil), r.HealthReportLinks...)
	}
	if r.Documents != nil {
		cloned.Documents = append([]Document(nil), r.Documents...)
	}
	return cloned
}

// Cleared returns the record with every user-entered field and attachment removed.
// The account and public path are kept.
func (r Record) Cleared() Record {
	return Record{
		AccountID:  r.AccountID,
		PublicPath: r.PublicPath,
		UpdatedAt:  r.UpdatedAt,
	}
}

// NormalizeLinks trims entries and drops the blank ones.
func NormalizeLinks(links []string) []string {
	normalized := make([]string, 0, len(links))
	for _, link := range links {
		trimmed := strings.TrimSpace(link)
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
