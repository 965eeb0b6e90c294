package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/medify/internal/auth"
	"github.com/MarcoPoloResearchLab/medify/internal/healthcard"
)

// Identity maps a provider login onto the account that owns a health card.
// Several logins may share one account; the card row is keyed by AccountID.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	AccountID   string    `gorm:"column:account_id;size:190;not null;index"`
	Email       string    `gorm:"column:login_email;size:320"`
	DisplayName string    `gorm:"column:login_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "card_owner_logins"
}

// defaultProvider marks logins whose claims carry no provider prefix.
const defaultProvider = "default"

// newIdentity records a first sighting.
func newIdentity(provider, subject string, claims auth.SessionClaims, seenAt time.Time) Identity {
	return Identity{
		Provider:    provider,
		Subject:     subject,
		AccountID:   accountFor(provider, subject),
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		LastSeenAt:  seenAt,
	}
}

// refreshFrom returns the column updates needed after a repeat login.
// Blank claim values never erase what is stored.
func (identity Identity) refreshFrom(claims auth.SessionClaims, seenAt time.Time) map[string]interface{} {
	updates := map[string]interface{}{"last_seen_at": seenAt}
	if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
		updates["login_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
		updates["login_display_name"] = display
	}
	return updates
}

// accountFor qualifies the subject with its provider so equal subjects issued
// by different providers never share a card. Unprefixed logins keep the bare
// subject unless it could be mistaken for a qualified id.
func accountFor(provider, subject string) string {
	if provider == defaultProvider && !strings.Contains(subject, ":") {
		return subject
	}
	return provider + ":" + subject
}

// Account validates the stored account id.
func (identity Identity) Account() (healthcard.AccountID, error) {
	return healthcard.NewAccountID(identity.AccountID)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
