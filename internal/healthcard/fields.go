package healthcard

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Field names an editable record field.
type Field string

const (
	FieldName              Field = "name"
	FieldAge               Field = "age"
	FieldBloodGroup        Field = "bloodGroup"
	FieldEmergencyContact  Field = "emergencyContact"
	FieldAllergies         Field = "allergies"
	FieldMedicalConditions Field = "medicalConditions"
	FieldMedications       Field = "medications"
	FieldAdditionalNotes   Field = "additionalNotes"
	FieldHealthReportLinks Field = "healthReportLinks"
)

const (
	minAge = 1
	maxAge = 150
)

const (
	messageNameRequired      = "Full name is required."
	messageAgeInvalid        = "Please enter a valid age (1-150)."
	messageBloodGroupMissing = "Blood group is required."
	messageContactRequired   = "Emergency contact number is required."
	messageContactInvalid    = "Please enter a valid phone number."
)

// ErrUnknownField indicates that an edit targeted a field that does not exist.
var ErrUnknownField = errors.New("healthcard: unknown field")

var phonePattern = regexp.MustCompile(`^[+]?[(]?[0-9]{3}[)]?[-\s.]?[0-9]{3}[-\s.]?[0-9]{4,6}$`)

// ParseField validates a field name.
func ParseField(raw string) (Field, error) {
	field := Field(strings.TrimSpace(raw))
	switch field {
	case FieldName, FieldAge, FieldBloodGroup, FieldEmergencyContact,
		FieldAllergies, FieldMedicalConditions, FieldMedications,
		FieldAdditionalNotes, FieldHealthReportLinks:
		return field, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, raw)
}

// FieldErrors maps fields to user-facing validation messages.
type FieldErrors map[Field]string

func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, string(field))
	}
	sort.Strings(fields)
	return "healthcard: invalid fields: " + strings.Join(fields, ", ")
}

// ApplyEdit sets one field of the record from its form representation.
// Health report links are newline separated. Values that cannot be represented
// in the record are rejected with a FieldErrors and leave the record unchanged.
func ApplyEdit(record *Record, field Field, value string) error {
	switch field {
	case FieldName:
		record.Name = value
	case FieldAge:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			record.Age = 0
			return nil
		}
		age, err := strconv.Atoi(trimmed)
		if err != nil {
			return FieldErrors{FieldAge: messageAgeInvalid}
		}
		record.Age = age
	case FieldBloodGroup:
		group, err := ParseBloodGroup(value)
		if err != nil {
			return FieldErrors{FieldBloodGroup: messageBloodGroupMissing}
		}
		record.BloodGroup = group
	case FieldEmergencyContact:
		record.EmergencyContact = value
	case FieldAllergies:
		record.Allergies = value
	case FieldMedicalConditions:
		record.MedicalConditions = value
	case FieldMedications:
		record.Medications = value
	case FieldAdditionalNotes:
		record.AdditionalNotes = value
	case FieldHealthReportLinks:
		record.HealthReportLinks = strings.Split(value, "\n")
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Validate checks the required fields of a record about to be saved.
// It returns nil when the record is acceptable.
func Validate(record Record) FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(record.Name) == "" {
		errs[FieldName] = messageNameRequired
	}
	if record.Age < minAge || record.Age > maxAge {
		errs[FieldAge] = messageAgeInvalid
	}
	if !record.BloodGroup.Valid() {
		errs[FieldBloodGroup] = messageBloodGroupMissing
	}
	contact := strings.TrimSpace(record.EmergencyContact)
	switch {
	case contact == "":
		errs[FieldEmergencyContact] = messageContactRequired
	case !phonePattern.MatchString(contact):
		errs[FieldEmergencyContact] = messageContactInvalid
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
