package domain

import "time"

// Intent is the relationship role a user declares, drawn from the rules vocabulary.
type Intent string

// PaymentMethod names how a user intends to pay.
type PaymentMethod string

const (
	PaymentMethodEcoCash  PaymentMethod = "ecocash"
	PaymentMethodOneMoney PaymentMethod = "onemoney"
	PaymentMethodWeb      PaymentMethod = "web"
)

// Mobile reports whether the method is a mobile-money express checkout.
func (m PaymentMethod) Mobile() bool {
	return m == PaymentMethodEcoCash || m == PaymentMethodOneMoney
}

// Profile is the evolving onboarding record of a user.
type Profile struct {
	UserID          string
	Name            string
	Age             int
	Location        string
	Intent          Intent
	PreferredGender Gender
	AgeMin          int
	AgeMax          int
	ContactPhone    string
	Picture         string
	PayCurrency     string
	PayMethod       PaymentMethod
	// MatchIDs are the candidates last previewed; payment unlocks exactly these.
	MatchIDs []string

	// Finance-intake draft.
	Address     string
	NationalID  string
	IDPhoto     string
	LoanProduct string
	LoanAmount  int

	CompletedAt *time.Time
	UpdatedAt       time.Time
}

// Complete reports whether the profile has passed the funnel pivot.
func (p *Profile) Complete() bool {
	return p != nil && p.CompletedAt != nil
}

// AcceptsAge reports whether age falls in the preferred range.
func (p *Profile) AcceptsAge(age int) bool {
	if p == nil || p.AgeMin == 0 || p.AgeMax == 0 {
		return false
	}
	return age >= p.AgeMin && age <= p.AgeMax
}

// ProfileField enumerates the fields a conversation turn may write.
type ProfileField string

const (
	FieldName            ProfileField = "name"
	FieldAge             ProfileField = "age"
	FieldLocation        ProfileField = "location"
	FieldIntent          ProfileField = "intent"
	FieldPreferredGender ProfileField = "preferred_gender"
	FieldAgeMin          ProfileField = "age_min"
	FieldAgeMax          ProfileField = "age_max"
	FieldContactPhone    ProfileField = "contact_phone"
	FieldPicture         ProfileField = "picture"
	FieldPayCurrency     ProfileField = "pay_currency"
	FieldPayMethod       ProfileField = "pay_method"
	FieldMatchIDs        ProfileField = "match_ids"
	FieldAddress         ProfileField = "address"
	FieldNationalID      ProfileField = "national_id"
	FieldIDPhoto         ProfileField = "id_photo"
	FieldLoanProduct     ProfileField = "loan_product"
	FieldLoanAmount      ProfileField = "loan_amount"
	// FieldGender lives on the user row.
	FieldGender ProfileField = "gender"
)

// IntField reports whether the field stores an integer.
func (f ProfileField) IntField() bool {
	return f == FieldAge || f == FieldAgeMin || f == FieldAgeMax || f == FieldLoanAmount
}

// Media reports whether the field holds a gateway media link.
func (f ProfileField) Media() bool {
	return f == FieldPicture || f == FieldIDPhoto
}

// FieldUpdate is one validated write produced by a conversation turn.
type FieldUpdate struct {
	Field ProfileField
	Text  string
	Int   int
	IDs   []string
}

// SetText builds a string field write.
func SetText(field ProfileField, value string) FieldUpdate {
	return FieldUpdate{Field: field, Text: value}
}

// SetInt builds an integer field write.
func SetInt(field ProfileField, value int) FieldUpdate {
	return FieldUpdate{Field: field, Int: value}
}

// SetIDs builds a user id list write. A nil list is stored as empty.
func SetIDs(field ProfileField, ids []string) FieldUpdate {
	if ids == nil {
		ids = []string{}
	}
	return FieldUpdate{Field: field, IDs: ids}
}

// Apply copies the update into an in-memory profile and user.
func (u FieldUpdate) Apply(user *User, p *Profile) {
	switch u.Field {
	case FieldName:
		p.Name = u.Text
	case FieldAge:
		p.Age = u.Int
	case FieldLocation:
		p.Location = u.Text
	case FieldIntent:
		p.Intent = Intent(u.Text)
	case FieldPreferredGender:
		p.PreferredGender = Gender(u.Text)
	case FieldAgeMin:
		p.AgeMin = u.Int
	case FieldAgeMax:
		p.AgeMax = u.Int
	case FieldContactPhone:
		p.ContactPhone = u.Text
	case FieldPicture:
		p.Picture = u.Text
	case FieldPayCurrency:
		p.PayCurrency = u.Text
	case FieldPayMethod:
		p.PayMethod = PaymentMethod(u.Text)
	case FieldMatchIDs:
		p.MatchIDs = append([]string(nil), u.IDs...)
	case FieldAddress:
		p.Address = u.Text
	case FieldNationalID:
		p.NationalID = u.Text
	case FieldIDPhoto:
		p.IDPhoto = u.Text
	case FieldLoanProduct:
		p.LoanProduct = u.Text
	case FieldLoanAmount:
		p.LoanAmount = u.Int
	case FieldGender:
		if user != nil {
			user.Gender = Gender(u.Text)
		}
	}
}
