package healthcard

// ViewKind identifies who a CardView is rendered for.
type ViewKind string

const (
	// ViewOwner is the authenticated owner's editing view.
	ViewOwner ViewKind = "owner"
	// ViewPublic is the read-only view served at the public pointer path.
	ViewPublic ViewKind = "public"
	// ViewGuest is the anonymous demo view.
	ViewGuest ViewKind = "guest"
)

// CardView is the read model consumed by the preview renderer and the exporter.
type CardView struct {
	Kind           ViewKind
	Record         Record
	HasSavedRecord bool
}

// OwnerView builds the owner's view of an edit buffer.
func OwnerView(record Record, saved bool) CardView {
	return CardView{Kind: ViewOwner, Record: record.Clone(), HasSavedRecord: saved}
}

// PublicView builds the read-only view of a saved record.
func PublicView(record Record) CardView {
	return CardView{Kind: ViewPublic, Record: record.Clone(), HasSavedRecord: true}
}

// GuestView builds the anonymous demo view.
func GuestView() CardView {
	return CardView{Kind: ViewGuest}
}

// IsPublic reports whether the view is the unauthenticated public view.
func (v CardView) IsPublic() bool {
	return v.Kind == ViewPublic
}

// IsPlaceholder reports whether demo content stands in for the record.
func (v CardView) IsPlaceholder() bool {
	return !v.HasSavedRecord && !v.IsPublic()
}

// Display returns the record to draw. Placeholder views substitute the demo
// record but keep the account and public path of the underlying record.
func (v CardView) Display() Record {
	if !v.IsPlaceholder() {
		return v.Record.Clone()
	}
	demo := DemoRecord()
	demo.AccountID = v.Record.AccountID
	demo.PublicPath = v.Record.PublicPath
	return demo
}

// DemoRecord returns the sample content shown before a record is saved.
func DemoRecord() Record {
	return Record{
		Name:              "Jane Doe",
		Age:               34,
		BloodGroup:        BloodGroupOPositive,
		EmergencyContact:  "123-456-7890",
		Allergies:         "Penicillin, Nuts",
		MedicalConditions: "Type 1 Diabetes, Asthma",
		Medications:       "Insulin - 10 units daily, Albuterol Inhaler - as needed",
		AdditionalNotes:   "Wears contact lenses.",
	}
}
