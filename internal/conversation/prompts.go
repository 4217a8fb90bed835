package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/rules"
)

var genderLabels = []string{"Male", "Female"}

var genderValues = []domain.Gender{domain.GenderMale, domain.GenderFemale}

type methodOption struct {
	Method domain.PaymentMethod
	Label  string
}

var methodOptions = []methodOption{
	{Method: domain.PaymentMethodEcoCash, Label: "EcoCash"},
	{Method: domain.PaymentMethodOneMoney, Label: "OneMoney"},
	{Method: domain.PaymentMethodWeb, Label: "Web"},
}

const (
	msgWelcome       = "Welcome to MatchBot ❤️\nLet's set up your profile so we can find your match.\n_Type EXIT at any time to start over._"
	msgReset         = "Your session has been reset. Send any message to start again."
	msgInvalidChoice = "❌ Invalid option. Please reply with one of the numbers below."
	msgUnderage      = "Sorry, you must be 18 or older to use this service."
	msgWaiting       = "⏳ We are still waiting for your payment confirmation. Reply STATUS to check again or EXIT to cancel."
	msgServiceDown   = "⚠️ Our payment service is unavailable right now. Please try again later by sending your payment details again, or EXIT to cancel."
)

func numbered(title string, options []string, footer string) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}
	if footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
	}
	return strings.TrimRight(b.String(), "\n")
}

func flowLabels(r *rules.Rules) []string {
	out := make([]string, len(r.Flows))
	for i, f := range r.Flows {
		out[i] = f.Label
	}
	return out
}

func intentLabels(options []rules.IntentRule) []string {
	out := make([]string, len(options))
	for i, in := range options {
		out[i] = in.Label
	}
	return out
}

func ageRangeLabels(r *rules.Rules) []string {
	out := make([]string, len(r.AgeRanges))
	for i, a := range r.AgeRanges {
		out[i] = a.Label()
	}
	return out
}

func methodLabels() []string {
	out := make([]string, len(methodOptions))
	for i, m := range methodOptions {
		out[i] = m.Label
	}
	return out
}

func (m *Machine) currencyLabels() []string {
	out := make([]string, len(m.rules.Currencies))
	for i, c := range m.rules.Currencies {
		out[i] = fmt.Sprintf("%s (%s)", c, formatAmount(m.prices[c], c))
	}
	return out
}

// prompt renders the question asked on entering state.
func (m *Machine) prompt(state domain.ChatState, user domain.User, p domain.Profile) string {
	switch state {
	case domain.StateChooseUserType:
		return numbered("Which best describes you?", flowLabels(m.rules), "")
	case domain.StateGetGender:
		return numbered("What is your gender?", genderLabels, "")
	case domain.StateGetIntent:
		return numbered("What are you looking for?", intentLabels(m.rules.IntentsFor(user.Gender)), "")
	case domain.StateGetAgeRange:
		return numbered("What age range would you like your match to be in?", ageRangeLabels(m.rules), "")
	case domain.StateGetName:
		if m.flowFor(user).Intake() {
			return "🧾 Please enter your full name:"
		}
		return "What is your name?"
	case domain.StateGetAge:
		return "How old are you? (numbers only)"
	case domain.StateGetLocation:
		return "Which city or town are you in?"
	case domain.StateGetPhoto:
		return "📸 Send a photo of yourself, or reply SKIP."
	case domain.StateGetPhone:
		return "📱 Which phone number should your matches use to contact you? (e.g. 0771234567)"
	case domain.StateAwaitingMatches:
		return "We have no matches for you yet. Reply STATUS to check again later, or EXIT to start over."
	case domain.StateChooseCurrency:
		return numbered("To unlock your matches' contact details, choose a currency:", m.currencyLabels(), "")
	case domain.StateChooseMethod:
		return numbered("How would you like to pay?", methodLabels(), "")
	case domain.StateAwaitingPaymentInput:
		if p.PayMethod.Mobile() {
			return fmt.Sprintf("Enter the %s number to charge, or reply SAME to use %s.", methodLabel(p.PayMethod), p.ContactPhone)
		}
		return "Enter your email address to receive the payment link and receipt."
	case domain.StatePaymentPending:
		return msgWaiting
	case domain.StateActive:
		return "🔓 Your matches are unlocked. Reply STATUS to see them again, NEW to start a new search, or EXIT to start over."
	case domain.StateChooseProduct:
		return numbered("💼 Which loan product would you like to apply for?", productLabels(m), "")
	case domain.StateGetAddress:
		return "🏠 Enter your full address:"
	case domain.StateGetNationalID:
		return "🆔 Enter your national ID number (e.g. 63-123456A78):"
	case domain.StateGetIDPhoto:
		return "📸 Please upload a photo of your ID."
	case domain.StateGetAmount:
		in := m.rules.Intake
		return fmt.Sprintf("💰 Enter the amount you are applying for in %s (%d - %d):", in.Currency, in.MinAmount, in.MaxAmount)
	case domain.StateConfirmApplication:
		return m.applicationSummary(p)
	default:
		return msgWelcome
	}
}

func methodLabel(method domain.PaymentMethod) string {
	for _, o := range methodOptions {
		if o.Method == method {
			return o.Label
		}
	}
	return string(method)
}

func formatAmount(cents int64, currency string) string {
	if currency == "USD" {
		return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
	}
	return fmt.Sprintf("%s %d.%02d", currency, cents/100, cents%100)
}

// Preview renders a match with contact details withheld.
func Preview(i int, c domain.Candidate) string {
	return fmt.Sprintf("💘 Match %d\nName: %s\nAge: %d\nLocation: %s\nPhone: 🔒 locked", i+1, c.Name, c.Age, c.Location)
}

// Reveal renders a match including contact details.
func Reveal(i int, c domain.Candidate) string {
	return fmt.Sprintf("💘 Match %d\nName: %s\nAge: %d\nLocation: %s\nWhatsApp: https://wa.me/%s", i+1, c.Name, c.Age, c.Location, c.ContactPhone)
}

func (m *Machine) windowHint() string {
	if m.window <= 0 {
		return ""
	}
	return fmt.Sprintf("\nPlease complete the payment within %s.", humanDuration(m.window))
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}
