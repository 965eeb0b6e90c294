package export

import (
	"strings"

	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
)

const (
	ReasonLoginRequired = "Login to enable download"
	ReasonFillDetails   = "Fill in your details to enable download"
	ReasonSaveFirst     = "Save your card details first"
)

// BlockedError explains why a view cannot be exported.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "export: blocked: " + e.Reason
}

// CheckEligibility returns a *BlockedError when view may not be exported.
// Only an owner whose record has been saved with a name can export.
func CheckEligibility(view healthcard.CardView) error {
	switch view.Kind {
	case healthcard.ViewOwner:
	default:
		return &BlockedError{Reason: ReasonLoginRequired}
	}
	if strings.TrimSpace(view.Record.Name) == "" {
		return &BlockedError{Reason: ReasonFillDetails}
	}
	if !view.HasSavedRecord {
		return &BlockedError{Reason: ReasonSaveFirst}
	}
	return nil
}
