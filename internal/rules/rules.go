// Package rules holds the static compatibility vocabulary and the onboarding
// flow definitions. Rules are read-only once loaded.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/matchbot/internal/domain"
)

//go:embed default_rules.yaml
var defaultRules []byte

// IntentRule describes one intent and the intents it is compatible with.
type IntentRule struct {
	Key        domain.Intent   `yaml:"key"`
	Label      string          `yaml:"label"`
	Gender     domain.Gender   `yaml:"gender"`
	Seeks      domain.Gender   `yaml:"seeks"`
	Compatible []domain.Intent `yaml:"compatible"`
}

// AgeRange is one selectable preferred-age bucket.
type AgeRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Label renders the bucket for menus.
func (a AgeRange) Label() string {
	if a.Max >= 99 {
		return fmt.Sprintf("%d+", a.Min)
	}
	return fmt.Sprintf("%d - %d", a.Min, a.Max)
}

// FlowKind selects what a flow ends in.
type FlowKind string

const (
	// KindMatching flows end at GET_PHONE, the matching pivot.
	KindMatching FlowKind = "matching"
	// KindIntake flows end at CONFIRM_APPLICATION and submit a loan application.
	KindIntake FlowKind = "intake"
)

// Flow is an ordered list of input-collecting steps. The last step is the funnel pivot.
type Flow struct {
	Key      string             `yaml:"key"`
	Label    string             `yaml:"label"`
	Kind     FlowKind           `yaml:"kind"`
	Welcome  string             `yaml:"welcome"`
	Disabled bool               `yaml:"disabled"`
	Steps    []domain.ChatState `yaml:"steps"`
}

// Intake reports whether the flow collects a loan application.
func (f Flow) Intake() bool {
	return f.Kind == KindIntake
}

// First returns the first step of the flow.
func (f Flow) First() domain.ChatState {
	return f.Steps[0]
}

// Has reports whether the flow contains the step.
func (f Flow) Has(state domain.ChatState) bool {
	return f.index(state) >= 0
}

// Next returns the step after state; ok is false when state is the last step or absent.
func (f Flow) Next(state domain.ChatState) (domain.ChatState, bool) {
	i := f.index(state)
	if i < 0 || i+1 >= len(f.Steps) {
		return "", false
	}
	return f.Steps[i+1], true
}

func (f Flow) index(state domain.ChatState) int {
	for i, s := range f.Steps {
		if s == state {
			return i
		}
	}
	return -1
}

// Product is a loan product offered by intake flows.
type Product struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// IntakeRules configures finance-intake flows.
type IntakeRules struct {
	Products          []Product `yaml:"products"`
	Currency          string    `yaml:"currency"`
	MinAmount         int       `yaml:"min_amount"`
	MaxAmount         int       `yaml:"max_amount"`
	NationalIDPattern string    `yaml:"national_id_pattern"`

	idRe *regexp.Regexp
}

// Product looks up a product by key.
func (in IntakeRules) Product(key string) (Product, bool) {
	for _, p := range in.Products {
		if p.Key == key {
			return p, true
		}
	}
	return Product{}, false
}

// NormalizeNationalID validates an ID number and returns it upper-cased without separators.
func (in IntakeRules) NormalizeNationalID(input string) (string, bool) {
	if in.idRe == nil {
		return "", false
	}
	id := strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(input)))
	if !in.idRe.MatchString(id) {
		return "", false
	}
	return id, true
}

// Rules is the loaded rule set.
type Rules struct {
	Intents          []IntentRule `yaml:"intents"`
	AgeRanges        []AgeRange   `yaml:"age_ranges"`
	Currencies       []string     `yaml:"currencies"`
	PhonePattern     string       `yaml:"phone_pattern"`
	PhoneCountryCode string       `yaml:"phone_country_code"`
	Intake           IntakeRules  `yaml:"intake"`
	// Flows holds the enabled flows once compiled.
	Flows []Flow `yaml:"flows"`

	disabled []Flow

	byKey   map[domain.Intent]IntentRule
	compat  map[domain.Intent]map[domain.Intent]bool
	phoneRe *regexp.Regexp
}

// collectable lists the states a matching flow may contain.
var collectable = map[domain.ChatState]bool{
	domain.StateGetGender:   true,
	domain.StateGetIntent:   true,
	domain.StateGetAgeRange: true,
	domain.StateGetName:     true,
	domain.StateGetAge:      true,
	domain.StateGetLocation: true,
	domain.StateGetPhoto:    true,
	domain.StateGetPhone:    true,
}

// intakeCollectable lists the states an intake flow may contain.
var intakeCollectable = map[domain.ChatState]bool{
	domain.StateChooseProduct:      true,
	domain.StateGetName:            true,
	domain.StateGetAge:             true,
	domain.StateGetAddress:         true,
	domain.StateGetNationalID:      true,
	domain.StateGetIDPhoto:         true,
	domain.StateGetAmount:          true,
	domain.StateConfirmApplication: true,
}

// Default returns the embedded rule set.
func Default() (*Rules, error) {
	return Parse(defaultRules)
}

// Load reads rules from path, or the embedded default when path is empty.
func Load(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule set.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() error {
	if len(r.Intents) == 0 {
		return errors.New("rules: no intents defined")
	}
	r.byKey = make(map[domain.Intent]IntentRule, len(r.Intents))
	for _, in := range r.Intents {
		if in.Key == "" {
			return errors.New("rules: intent without key")
		}
		if _, dup := r.byKey[in.Key]; dup {
			return fmt.Errorf("rules: duplicate intent %q", in.Key)
		}
		if in.Seeks == "" {
			in.Seeks = in.Gender.Opposite()
		}
		r.byKey[in.Key] = in
	}

	// Compatibility is the symmetric closure of the declared lists.
	r.compat = make(map[domain.Intent]map[domain.Intent]bool, len(r.byKey))
	link := func(a, b domain.Intent) {
		if r.compat[a] == nil {
			r.compat[a] = map[domain.Intent]bool{}
		}
		r.compat[a][b] = true
	}
	for _, in := range r.byKey {
		for _, other := range in.Compatible {
			if _, ok := r.byKey[other]; !ok {
				return fmt.Errorf("rules: intent %q lists unknown compatible intent %q", in.Key, other)
			}
			link(in.Key, other)
			link(other, in.Key)
		}
	}

	if len(r.AgeRanges) == 0 {
		return errors.New("rules: no age ranges defined")
	}
	for _, ar := range r.AgeRanges {
		if ar.Min < 18 || ar.Max < ar.Min {
			return fmt.Errorf("rules: invalid age range %d-%d", ar.Min, ar.Max)
		}
	}

	if len(r.Currencies) == 0 {
		return errors.New("rules: no currencies defined")
	}
	for i, c := range r.Currencies {
		r.Currencies[i] = strings.ToUpper(strings.TrimSpace(c))
	}

	re, err := regexp.Compile(r.PhonePattern)
	if err != nil {
		return fmt.Errorf("rules: phone pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return errors.New("rules: phone pattern must capture the national number in one group")
	}
	r.phoneRe = re

	seen := map[string]bool{}
	enabled := make([]Flow, 0, len(r.Flows))
	hasIntake := false
	for _, f := range r.Flows {
		if f.Key == "" || seen[f.Key] {
			return fmt.Errorf("rules: flow key %q missing or duplicated", f.Key)
		}
		seen[f.Key] = true
		if f.Kind == "" {
			f.Kind = KindMatching
		}
		if err := f.validate(); err != nil {
			return err
		}
		hasIntake = hasIntake || f.Intake()
		if f.Disabled {
			r.disabled = append(r.disabled, f)
			continue
		}
		enabled = append(enabled, f)
	}
	if len(enabled) == 0 {
		return errors.New("rules: no flows enabled")
	}
	r.Flows = enabled

	if hasIntake {
		return r.Intake.compile()
	}
	return nil
}

func (f Flow) validate() error {
	var (
		allowed  map[domain.ChatState]bool
		last     domain.ChatState
		required []domain.ChatState
	)
	switch f.Kind {
	case KindMatching:
		allowed, last = collectable, domain.StateGetPhone
		required = []domain.ChatState{domain.StateGetIntent, domain.StateGetAgeRange, domain.StateGetAge}
	case KindIntake:
		allowed, last = intakeCollectable, domain.StateConfirmApplication
		required = []domain.ChatState{domain.StateChooseProduct, domain.StateGetName, domain.StateGetAmount}
	default:
		return fmt.Errorf("rules: flow %q has unknown kind %q", f.Key, f.Kind)
	}

	if len(f.Steps) == 0 || f.Steps[len(f.Steps)-1] != last {
		return fmt.Errorf("rules: flow %q must end with %s", f.Key, last)
	}
	stepSeen := map[domain.ChatState]bool{}
	for _, s := range f.Steps {
		if !allowed[s] || stepSeen[s] {
			return fmt.Errorf("rules: flow %q has invalid step %q", f.Key, s)
		}
		stepSeen[s] = true
	}
	for _, s := range required {
		if !stepSeen[s] {
			return fmt.Errorf("rules: flow %q must collect %s", f.Key, s)
		}
	}
	return nil
}

func (in *IntakeRules) compile() error {
	if len(in.Products) == 0 {
		return errors.New("rules: intake flows need at least one product")
	}
	keys := map[string]bool{}
	for _, p := range in.Products {
		if p.Key == "" || p.Label == "" || keys[p.Key] {
			return fmt.Errorf("rules: intake product %q missing key or label, or duplicated", p.Key)
		}
		keys[p.Key] = true
	}
	if in.MinAmount <= 0 || in.MaxAmount < in.MinAmount {
		return fmt.Errorf("rules: invalid intake amount range %d-%d", in.MinAmount, in.MaxAmount)
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "USD"
	}
	re, err := regexp.Compile(in.NationalIDPattern)
	if err != nil || in.NationalIDPattern == "" {
		return fmt.Errorf("rules: intake national id pattern %q invalid", in.NationalIDPattern)
	}
	in.idRe = re
	return nil
}

// Intent looks up an intent by key.
func (r *Rules) Intent(key domain.Intent) (IntentRule, bool) {
	in, ok := r.byKey[key]
	return in, ok
}

// IntentsFor lists intents a user of the given gender may declare, in file order.
// An empty gender means the gender will be derived from the intent, so all intents qualify.
func (r *Rules) IntentsFor(g domain.Gender) []IntentRule {
	out := make([]IntentRule, 0, len(r.Intents))
	for _, in := range r.Intents {
		rule := r.byKey[in.Key]
		if g == "" || rule.Gender == "" || rule.Gender == g {
			out = append(out, rule)
		}
	}
	return out
}

// Compatible reports whether two intents may be matched, in either direction.
func (r *Rules) Compatible(a, b domain.Intent) bool {
	return r.compat[a][b]
}

// CompatibleWith lists the intents key may be matched with, in file order.
func (r *Rules) CompatibleWith(key domain.Intent) []domain.Intent {
	var out []domain.Intent
	for _, in := range r.Intents {
		if r.compat[key][in.Key] {
			out = append(out, in.Key)
		}
	}
	return out
}

// ImpliedGender is the gender declaring the intent implies, or "" when none.
func (r *Rules) ImpliedGender(key domain.Intent) domain.Gender {
	return r.byKey[key].Gender
}

// PreferredGender derives who a user wants to meet from their intent and own gender.
func (r *Rules) PreferredGender(key domain.Intent, own domain.Gender) domain.Gender {
	if in, ok := r.byKey[key]; ok && in.Seeks != "" {
		return in.Seeks
	}
	return own.Opposite()
}

// Flow looks up a flow by key.
func (r *Rules) Flow(key string) (Flow, bool) {
	for _, f := range r.Flows {
		if f.Key == key {
			return f, true
		}
	}
	return Flow{}, false
}

// EnableFlows turns on flows declared with disabled: true. Keys of flows that
// are already enabled are ignored.
func (r *Rules) EnableFlows(keys ...string) error {
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := r.Flow(key); ok {
			continue
		}
		found := false
		for i, f := range r.disabled {
			if f.Key == key {
				f.Disabled = false
				r.Flows = append(r.Flows, f)
				r.disabled = append(r.disabled[:i], r.disabled[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("rules: unknown flow %q", key)
		}
	}
	return nil
}

// DefaultFlow is the first declared flow.
func (r *Rules) DefaultFlow() Flow {
	return r.Flows[0]
}

// NormalizePhone validates a national mobile number and returns it in international form without '+'.
func (r *Rules) NormalizePhone(input string) (string, bool) {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(input))
	m := r.phoneRe.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	return r.PhoneCountryCode + m[1], true
}

// SupportsCurrency reports whether code is configured.
func (r *Rules) SupportsCurrency(code string) bool {
	for _, c := range r.Currencies {
		if c == code {
			return true
		}
	}
	return false
}
