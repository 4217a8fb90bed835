package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/matchbot/internal/domain"
)

const (
	minAddressLen = 5
	maxAddressLen = 120

	msgSubmitted = "🎉 Your loan application has been submitted successfully.\nOur team will contact you shortly."
)

func (m *Machine) chooseProduct(t Turn) Decision {
	products := m.rules.Intake.Products
	i, ok := choose(t.Text, productLabels(m))
	if !ok {
		return m.invalid(t)
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{
		domain.SetText(domain.FieldLoanProduct, products[i].Key),
	}})
}

func (m *Machine) getAddress(t Turn) Decision {
	addr := strings.Join(strings.Fields(t.Text), " ")
	if n := utf8.RuneCountInString(addr); n < minAddressLen || n > maxAddressLen || !hasLetter(addr) {
		return m.stay(t, "Please enter your full address, e.g. 12 Samora Machel Ave, Harare.")
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetText(domain.FieldAddress, addr)}})
}

func (m *Machine) getNationalID(t Turn) Decision {
	id, ok := m.rules.Intake.NormalizeNationalID(t.Text)
	if !ok {
		return m.stay(t, "❌ That does not look like a valid national ID number.\n\n"+m.prompt(domain.StateGetNationalID, t.User, t.Profile))
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetText(domain.FieldNationalID, id)}})
}

func (m *Machine) getIDPhoto(t Turn) Decision {
	if t.MediaRef == "" {
		return m.stay(t, "⚠️ Please upload a photo of your ID to proceed.")
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetText(domain.FieldIDPhoto, t.MediaRef)}})
}

func (m *Machine) getAmount(t Turn) Decision {
	in := m.rules.Intake
	amount, ok := parseAmount(t.Text, in.Currency)
	if !ok || amount < in.MinAmount || amount > in.MaxAmount {
		return m.stay(t, fmt.Sprintf("Please enter a whole amount between %d and %d.", in.MinAmount, in.MaxAmount))
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetInt(domain.FieldLoanAmount, amount)}})
}

// confirmApplication files the draft on YES. Anything else shows the summary again.
func (m *Machine) confirmApplication(t Turn) Decision {
	if command(t.Text) != CmdYes {
		return m.stay(t, m.prompt(domain.StateConfirmApplication, t.User, t.Profile))
	}
	if missing, ok := m.missingStep(t.User, t.Profile); ok {
		t.User.State = missing
		return Decision{
			Next:    missing,
			Replies: texts("We are missing some of your details.", m.prompt(missing, t.User, t.Profile)),
		}
	}
	return Decision{
		Next:    domain.StateNew,
		Submit:  true,
		Reset:   true,
		Replies: texts(msgSubmitted),
	}
}

// parseAmount accepts a whole number, optionally prefixed by "$" or the currency
// code and grouped with commas.
func parseAmount(input, currency string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if currency != "" {
		s = strings.TrimPrefix(s, strings.ToUpper(currency))
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func productLabels(m *Machine) []string {
	out := make([]string, len(m.rules.Intake.Products))
	for i, p := range m.rules.Intake.Products {
		out[i] = p.Label
	}
	return out
}

func (m *Machine) applicationSummary(p domain.Profile) string {
	product := p.LoanProduct
	if pr, ok := m.rules.Intake.Product(p.LoanProduct); ok {
		product = pr.Label
	}
	return fmt.Sprintf("✅ Confirm Submission\n\nProduct: %s\nName: %s\nAge: %d\nAddress: %s\nNational ID: %s\nAmount: %s %d\n\nReply YES to submit your application or EXIT to cancel.",
		product, p.Name, p.Age, p.Address, p.NationalID, m.rules.Intake.Currency, p.LoanAmount)
}
