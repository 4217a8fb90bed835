// Package conversation implements the per-user onboarding and payment state
// machine. It is pure: a turn is computed from the user's current record and one
// inbound message, and side effects are described as an Action the caller runs
// before calling Resolve.
package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/rules"
)

// Global commands, recognized in every state.
const (
	CmdExit    = "EXIT"
	CmdRestart = "RESTART"
	CmdHelp    = "HELP"
	CmdMenu    = "MENU"
	CmdStatus  = "STATUS"
	CmdSkip    = "SKIP"
	CmdSame    = "SAME"
)

// State-local replies.
const (
	CmdNew = "NEW"
	CmdYes = "YES"
)

// ActionKind names the side effect a decision requires.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionFindMatches
	ActionStartPayment
	ActionCheckPayment
	ActionRevealMatches
)

func (a ActionKind) String() string {
	switch a {
	case ActionFindMatches:
		return "find_matches"
	case ActionStartPayment:
		return "start_payment"
	case ActionCheckPayment:
		return "check_payment"
	case ActionRevealMatches:
		return "reveal_matches"
	default:
		return "none"
	}
}

// PaymentRequest carries what ActionStartPayment needs.
type PaymentRequest struct {
	Currency    string
	Method      domain.PaymentMethod
	PayerHandle string
}

// Turn is the input to one step.
type Turn struct {
	User     domain.User
	Profile  domain.Profile
	Text     string
	MediaRef string
}

// Decision is the outcome of a step: the next state, the validated field writes,
// the replies, and at most one action.
type Decision struct {
	Next    domain.ChatState
	Flow    string
	Reset   bool
	Updates []domain.FieldUpdate
	// Complete marks the profile as having passed the funnel pivot.
	Complete bool
	Replies  []domain.OutboundMessage
	Action   ActionKind
	Payment  PaymentRequest
	// Settled means the state transition was already committed by settlement and
	// must not be written again by the caller.
	Settled bool
	// Submit files the profile's loan application draft before any reset.
	Submit bool
}

// PaymentOutcome reports the result of ActionStartPayment.
type PaymentOutcome struct {
	Instructions string
	RedirectURL  string
	Err          error
}

// CheckOutcome reports the result of ActionCheckPayment.
type CheckOutcome struct {
	Result domain.PollResult
	// NoSession means the user holds no PENDING session.
	NoSession bool
}

// ActionResult feeds the outcome of an action back into Resolve. Matches carries
// the result of both ActionFindMatches and ActionRevealMatches.
type ActionResult struct {
	Matches domain.MatchResult
	Payment PaymentOutcome
	Check   CheckOutcome
}

// Options configures a Machine.
type Options struct {
	Rules *rules.Rules
	// Prices maps currency to the unlock price in minor units.
	Prices map[string]int64
	// PaymentWindow is shown to users; zero hides the hint.
	PaymentWindow time.Duration
}

// Machine computes conversation turns.
type Machine struct {
	rules  *rules.Rules
	prices map[string]int64
	window time.Duration
}

// New builds a Machine.
func New(opts Options) *Machine {
	prices := opts.Prices
	if prices == nil {
		prices = map[string]int64{}
	}
	return &Machine{rules: opts.Rules, prices: prices, window: opts.PaymentWindow}
}

// Step computes the decision for one inbound message. It never fails: invalid input
// yields a re-prompt in the same state.
func (m *Machine) Step(t Turn) Decision {
	state := t.User.State.Normalize()
	t.User.State = state

	switch command(t.Text) {
	case CmdExit, CmdRestart:
		return Decision{Next: domain.StateNew, Reset: true, Replies: []domain.OutboundMessage{domain.Text(msgReset)}}
	case CmdHelp, CmdMenu:
		if state != domain.StateNew {
			return m.stay(t, m.help(state))
		}
	}

	switch state {
	case domain.StateNew:
		return m.start()
	case domain.StateChooseUserType:
		return m.chooseUserType(t)
	case domain.StateGetGender:
		return m.getGender(t)
	case domain.StateGetIntent:
		return m.getIntent(t)
	case domain.StateGetAgeRange:
		return m.getAgeRange(t)
	case domain.StateGetName:
		return m.getName(t)
	case domain.StateGetAge:
		return m.getAge(t)
	case domain.StateGetLocation:
		return m.getLocation(t)
	case domain.StateGetPhoto:
		return m.getPhoto(t)
	case domain.StateGetPhone:
		return m.getPhone(t)
	case domain.StateAwaitingMatches:
		return m.awaitingMatches(t)
	case domain.StateChooseCurrency:
		return m.chooseCurrency(t)
	case domain.StateChooseMethod:
		return m.chooseMethod(t)
	case domain.StateAwaitingPaymentInput:
		return m.awaitingPaymentInput(t)
	case domain.StatePaymentPending:
		return m.paymentPending(t)
	case domain.StateActive:
		return m.active(t)
	case domain.StateChooseProduct:
		return m.chooseProduct(t)
	case domain.StateGetAddress:
		return m.getAddress(t)
	case domain.StateGetNationalID:
		return m.getNationalID(t)
	case domain.StateGetIDPhoto:
		return m.getIDPhoto(t)
	case domain.StateGetAmount:
		return m.getAmount(t)
	case domain.StateConfirmApplication:
		return m.confirmApplication(t)
	}
	return m.start()
}

// Resolve completes a decision whose action has been executed.
func (m *Machine) Resolve(t Turn, d Decision, r ActionResult) Decision {
	switch d.Action {
	case ActionFindMatches:
		return m.resolveMatches(t, d, r.Matches)
	case ActionStartPayment:
		return m.resolvePayment(t, d, r.Payment)
	case ActionCheckPayment:
		return m.resolveCheck(d, r.Check)
	case ActionRevealMatches:
		return m.resolveReveal(d, r.Matches)
	}
	return d
}

// Prompt renders the question for state, used after external transitions.
func (m *Machine) Prompt(user domain.User, p domain.Profile) string {
	return m.prompt(user.State.Normalize(), user, p)
}

func (m *Machine) start() Decision {
	d := Decision{Reset: true}
	if len(m.rules.Flows) > 1 {
		d.Next = domain.StateChooseUserType
		d.Replies = texts(msgWelcome, m.prompt(domain.StateChooseUserType, domain.User{}, domain.Profile{}))
		return d
	}
	flow := m.rules.DefaultFlow()
	welcome := msgWelcome
	if flow.Welcome != "" {
		welcome = flow.Welcome
	}
	d.Flow = flow.Key
	d.Next = flow.First()
	d.Replies = texts(welcome, m.prompt(d.Next, domain.User{Flow: flow.Key}, domain.Profile{}))
	return d
}

func (m *Machine) chooseUserType(t Turn) Decision {
	i, ok := choose(t.Text, flowLabels(m.rules))
	if !ok {
		return m.invalid(t)
	}
	flow := m.rules.Flows[i]
	t.User.Flow = flow.Key
	return m.advanceTo(t, Decision{Flow: flow.Key}, flow.First())
}

func (m *Machine) getGender(t Turn) Decision {
	i, ok := choose(t.Text, genderLabels)
	if !ok {
		return m.invalid(t)
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{
		domain.SetText(domain.FieldGender, string(genderValues[i])),
	}})
}

func (m *Machine) getIntent(t Turn) Decision {
	options := m.rules.IntentsFor(t.User.Gender)
	i, ok := choose(t.Text, intentLabels(options))
	if !ok {
		return m.invalid(t)
	}
	intent := options[i]
	gender := t.User.Gender
	var updates []domain.FieldUpdate
	if gender == "" && intent.Gender != "" {
		gender = intent.Gender
		updates = append(updates, domain.SetText(domain.FieldGender, string(gender)))
	}
	updates = append(updates,
		domain.SetText(domain.FieldIntent, string(intent.Key)),
		domain.SetText(domain.FieldPreferredGender, string(m.rules.PreferredGender(intent.Key, gender))),
	)
	return m.advance(t, Decision{Updates: updates})
}

func (m *Machine) getAgeRange(t Turn) Decision {
	i, ok := choose(t.Text, ageRangeLabels(m.rules))
	if !ok {
		return m.invalid(t)
	}
	ar := m.rules.AgeRanges[i]
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{
		domain.SetInt(domain.FieldAgeMin, ar.Min),
		domain.SetInt(domain.FieldAgeMax, ar.Max),
	}})
}

func (m *Machine) getName(t Turn) Decision {
	name, ok := cleanName(t.Text)
	if !ok {
		return m.stay(t, "Please enter a valid name (letters only).\n\n"+m.prompt(domain.StateGetName, t.User, t.Profile))
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetText(domain.FieldName, name)}})
}

func (m *Machine) getAge(t Turn) Decision {
	age, ok := parseAge(t.Text)
	if !ok || age > maxAge {
		return m.stay(t, "Please enter a valid age using numbers only, e.g. 25.")
	}
	if age < minAge {
		return m.stay(t, msgUnderage)
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetInt(domain.FieldAge, age)}})
}

func (m *Machine) getLocation(t Turn) Decision {
	loc, ok := cleanLocation(t.Text)
	if !ok {
		return m.stay(t, "Please enter a valid city or town, e.g. Harare.")
	}
	return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetText(domain.FieldLocation, loc)}})
}

func (m *Machine) getPhoto(t Turn) Decision {
	if t.MediaRef != "" {
		return m.advance(t, Decision{Updates: []domain.FieldUpdate{domain.SetText(domain.FieldPicture, t.MediaRef)}})
	}
	if command(t.Text) == CmdSkip {
		return m.advance(t, Decision{})
	}
	return m.stay(t, m.prompt(domain.StateGetPhoto, t.User, t.Profile))
}

// getPhone is the funnel pivot: the profile becomes complete and matching runs.
func (m *Machine) getPhone(t Turn) Decision {
	phone, ok := m.rules.NormalizePhone(t.Text)
	if !ok {
		return m.stay(t, "❌ That does not look like a valid mobile number. Please try again, e.g. 0771234567.")
	}
	d := Decision{
		Next:    domain.StateGetPhone,
		Updates: []domain.FieldUpdate{domain.SetText(domain.FieldContactPhone, phone)},
	}
	user, profile := apply(t, d.Updates)
	if missing, ok := m.missingStep(user, profile); ok {
		// Something earlier in the flow was lost; send the user back to it.
		d.Next = missing
		d.Replies = texts("We are missing some of your details.", m.prompt(missing, user, profile))
		return d
	}
	d.Complete = true
	d.Action = ActionFindMatches
	return d
}

func (m *Machine) awaitingMatches(t Turn) Decision {
	if !t.Profile.Complete() {
		return m.start()
	}
	if command(t.Text) == CmdStatus {
		return Decision{Next: domain.StateAwaitingMatches, Action: ActionFindMatches}
	}
	return m.stay(t, m.prompt(domain.StateAwaitingMatches, t.User, t.Profile))
}

func (m *Machine) chooseCurrency(t Turn) Decision {
	if !t.Profile.Complete() {
		return m.start()
	}
	i, ok := choose(t.Text, m.rules.Currencies)
	if !ok {
		i, ok = choose(t.Text, m.currencyLabels())
	}
	if !ok {
		return m.invalid(t)
	}
	return Decision{
		Next:    domain.StateChooseMethod,
		Updates: []domain.FieldUpdate{domain.SetText(domain.FieldPayCurrency, m.rules.Currencies[i])},
		Replies: texts(m.prompt(domain.StateChooseMethod, t.User, t.Profile)),
	}
}

func (m *Machine) chooseMethod(t Turn) Decision {
	if !t.Profile.Complete() {
		return m.start()
	}
	i, ok := choose(t.Text, methodLabels())
	if !ok {
		return m.invalid(t)
	}
	d := Decision{
		Next:    domain.StateAwaitingPaymentInput,
		Updates: []domain.FieldUpdate{domain.SetText(domain.FieldPayMethod, string(methodOptions[i].Method))},
	}
	user, profile := apply(t, d.Updates)
	d.Replies = texts(m.prompt(domain.StateAwaitingPaymentInput, user, profile))
	return d
}

func (m *Machine) awaitingPaymentInput(t Turn) Decision {
	p := t.Profile
	if !p.Complete() {
		return m.start()
	}
	if !m.rules.SupportsCurrency(p.PayCurrency) || p.PayMethod == "" {
		return Decision{
			Next:    domain.StateChooseCurrency,
			Replies: texts(m.prompt(domain.StateChooseCurrency, t.User, p)),
		}
	}

	var handle string
	if p.PayMethod.Mobile() {
		input := t.Text
		if command(input) == CmdSame {
			input = p.ContactPhone
		}
		phone, ok := m.rules.NormalizePhone(input)
		if !ok {
			return m.stay(t, "❌ Invalid mobile number.\n\n"+m.prompt(domain.StateAwaitingPaymentInput, t.User, p))
		}
		handle = phone
	} else {
		email, ok := validEmail(t.Text)
		if !ok {
			return m.stay(t, "❌ Invalid email address.\n\n"+m.prompt(domain.StateAwaitingPaymentInput, t.User, p))
		}
		handle = email
	}

	return Decision{
		Next:   domain.StatePaymentPending,
		Action: ActionStartPayment,
		Payment: PaymentRequest{
			Currency:    p.PayCurrency,
			Method:      p.PayMethod,
			PayerHandle: handle,
		},
	}
}

// active holds an unlocked user. Only NEW or a global reset starts over.
func (m *Machine) active(t Turn) Decision {
	if !t.Profile.Complete() {
		return m.start()
	}
	switch command(t.Text) {
	case CmdStatus:
		return Decision{Next: domain.StateActive, Action: ActionRevealMatches}
	case CmdNew:
		return m.start()
	}
	return m.stay(t, m.prompt(domain.StateActive, t.User, t.Profile))
}

func (m *Machine) paymentPending(t Turn) Decision {
	if command(t.Text) == CmdStatus {
		return Decision{Next: domain.StatePaymentPending, Action: ActionCheckPayment}
	}
	return m.stay(t, msgWaiting)
}

func (m *Machine) resolveMatches(t Turn, d Decision, res domain.MatchResult) Decision {
	ids := make([]string, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		ids = append(ids, c.UserID)
	}
	d.Updates = append(d.Updates, domain.SetIDs(domain.FieldMatchIDs, ids))

	user, profile := apply(t, d.Updates)
	if res.Empty() {
		d.Next = domain.StateAwaitingMatches
		if t.User.State.Normalize() == domain.StateAwaitingMatches {
			d.Replies = texts("Still no matches for you. We will keep looking; reply STATUS to check again.")
		} else {
			d.Replies = texts("✅ Your profile is complete!", m.prompt(domain.StateAwaitingMatches, user, profile))
		}
		return d
	}

	replies := []domain.OutboundMessage{domain.Text(fmt.Sprintf("🎉 We found %d match(es) for you!", len(res.Candidates)))}
	for i, c := range res.Candidates {
		replies = append(replies, domain.Text(Preview(i, c)))
	}
	if res.MoreAvailable {
		replies = append(replies, domain.Text("There are more matches available."))
	}
	replies = append(replies, domain.Text(m.prompt(domain.StateChooseCurrency, user, profile)))
	d.Next = domain.StateChooseCurrency
	d.Replies = replies
	return d
}

func (m *Machine) resolvePayment(t Turn, d Decision, out PaymentOutcome) Decision {
	if out.Err != nil {
		if errors.Is(out.Err, domain.ErrPendingPaymentExists) {
			d.Next = domain.StatePaymentPending
			d.Replies = texts("You already have a payment in progress. Reply STATUS to check on it.")
			return d
		}
		d.Next = t.User.State.Normalize()
		d.Replies = texts(msgServiceDown)
		return d
	}

	var body string
	if d.Payment.Method.Mobile() {
		body = fmt.Sprintf("📲 A payment request has been sent to %s. Enter your %s PIN to approve it.", d.Payment.PayerHandle, methodLabel(d.Payment.Method))
		if out.Instructions != "" {
			body += "\n\n" + out.Instructions
		}
	} else {
		body = "💳 Complete your payment here:\n" + out.RedirectURL
	}
	body += m.windowHint()
	d.Next = domain.StatePaymentPending
	d.Replies = texts(body, "Reply STATUS once you have paid.")
	return d
}

func (m *Machine) resolveCheck(d Decision, out CheckOutcome) Decision {
	switch {
	case out.NoSession:
		d.Next = domain.StateNew
		d.Reset = true
		d.Replies = texts("We could not find a pending payment for you. Send any message to start again.")
	case out.Result == domain.PollPaid:
		// Settlement already moved the user and notifies them itself.
		d.Next = domain.StateActive
		d.Settled = true
		d.Replies = nil
	case out.Result == domain.PollFailed:
		d.Next = domain.StateNew
		d.Settled = true
		d.Replies = nil
	default:
		d.Next = domain.StatePaymentPending
		d.Replies = texts(msgWaiting)
	}
	return d
}

// resolveReveal re-delivers the unlocked matches that still exist.
func (m *Machine) resolveReveal(d Decision, res domain.MatchResult) Decision {
	if res.Empty() {
		d.Replies = texts("Your unlocked matches are no longer available. Reply NEW to start a new search.")
		return d
	}
	d.Replies = texts("🔓 Your unlocked matches:")
	for i, c := range res.Candidates {
		d.Replies = append(d.Replies, domain.Media(c.Picture, Reveal(i, c)))
	}
	d.Replies = append(d.Replies, domain.Text("Reply NEW to start a new search."))
	return d
}

// advance moves to the flow step after the current one.
func (m *Machine) advance(t Turn, d Decision) Decision {
	flow := m.flowFor(t.User)
	next, ok := flow.Next(t.User.State.Normalize())
	if !ok {
		next = flow.First()
	}
	return m.advanceTo(t, d, next)
}

func (m *Machine) advanceTo(t Turn, d Decision, next domain.ChatState) Decision {
	user, profile := apply(t, d.Updates)
	if d.Flow != "" {
		user.Flow = d.Flow
	}
	user.State = next
	d.Next = next
	d.Replies = append(d.Replies, domain.Text(m.prompt(next, user, profile)))
	return d
}

func (m *Machine) stay(t Turn, reply string) Decision {
	return Decision{Next: t.User.State.Normalize(), Replies: texts(reply)}
}

func (m *Machine) invalid(t Turn) Decision {
	return m.stay(t, msgInvalidChoice+"\n\n"+m.prompt(t.User.State.Normalize(), t.User, t.Profile))
}

func (m *Machine) help(state domain.ChatState) string {
	return "Reply to the question below, or send EXIT to start over.\n\n" + m.prompt(state, domain.User{}, domain.Profile{})
}

func (m *Machine) flowFor(u domain.User) rules.Flow {
	if f, ok := m.rules.Flow(u.Flow); ok {
		return f
	}
	return m.rules.DefaultFlow()
}

// missingStep returns the first flow step whose data is absent.
func (m *Machine) missingStep(u domain.User, p domain.Profile) (domain.ChatState, bool) {
	for _, step := range m.flowFor(u).Steps {
		var present bool
		switch step {
		case domain.StateGetGender:
			present = u.Gender != ""
		case domain.StateGetIntent:
			present = p.Intent != "" && p.PreferredGender != ""
		case domain.StateGetAgeRange:
			present = p.AgeMin > 0 && p.AgeMax > 0
		case domain.StateGetName:
			present = p.Name != ""
		case domain.StateGetAge:
			present = p.Age >= minAge
		case domain.StateGetLocation:
			present = p.Location != ""
		case domain.StateGetPhone:
			present = p.ContactPhone != ""
		case domain.StateChooseProduct:
			present = p.LoanProduct != ""
		case domain.StateGetAddress:
			present = p.Address != ""
		case domain.StateGetNationalID:
			present = p.NationalID != ""
		case domain.StateGetIDPhoto:
			present = p.IDPhoto != ""
		case domain.StateGetAmount:
			present = p.LoanAmount > 0
		default:
			present = true
		}
		if !present {
			return step, true
		}
	}
	return "", false
}

func apply(t Turn, updates []domain.FieldUpdate) (domain.User, domain.Profile) {
	user, profile := t.User, t.Profile
	for _, u := range updates {
		u.Apply(&user, &profile)
	}
	return user, profile
}

func texts(bodies ...string) []domain.OutboundMessage {
	out := make([]domain.OutboundMessage, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, domain.Text(b))
	}
	return out
}
