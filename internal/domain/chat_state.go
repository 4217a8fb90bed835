package domain

import "strings"

// ChatState tags the onboarding or payment step a user is currently at.
type ChatState string

const (
	StateNew                  ChatState = "NEW"
	StateChooseUserType       ChatState = "CHOOSE_USER_TYPE"
	StateGetGender            ChatState = "GET_GENDER"
	StateGetIntent            ChatState = "GET_INTENT"
	StateGetAgeRange          ChatState = "GET_AGE_RANGE"
	StateGetName              ChatState = "GET_NAME"
	StateGetAge               ChatState = "GET_AGE"
	StateGetLocation          ChatState = "GET_LOCATION"
	StateGetPhoto             ChatState = "GET_PHOTO"
	StateGetPhone             ChatState = "GET_PHONE"
	StateAwaitingMatches      ChatState = "AWAITING_MATCHES"
	StateChooseCurrency       ChatState = "CHOOSE_CURRENCY"
	StateChooseMethod         ChatState = "CHOOSE_METHOD"
	StateAwaitingPaymentInput ChatState = "AWAITING_PAYMENT_INPUT"
	StatePaymentPending       ChatState = "PAYMENT_PENDING"
	// StateActive holds an unlocked user until they start a new search.
	StateActive ChatState = "ACTIVE"

	// Finance-intake steps.
	StateChooseProduct      ChatState = "CHOOSE_PRODUCT"
	StateGetAddress         ChatState = "GET_ADDRESS"
	StateGetNationalID      ChatState = "GET_NATIONAL_ID"
	StateGetIDPhoto         ChatState = "GET_ID_PHOTO"
	StateGetAmount          ChatState = "GET_AMOUNT"
	StateConfirmApplication ChatState = "CONFIRM_APPLICATION"
)

var knownStates = map[ChatState]struct{}{
	StateNew:                  {},
	StateChooseUserType:       {},
	StateGetGender:            {},
	StateGetIntent:            {},
	StateGetAgeRange:          {},
	StateGetName:              {},
	StateGetAge:               {},
	StateGetLocation:          {},
	StateGetPhoto:             {},
	StateGetPhone:             {},
	StateAwaitingMatches:      {},
	StateChooseCurrency:       {},
	StateChooseMethod:         {},
	StateAwaitingPaymentInput: {},
	StatePaymentPending:       {},
	StateActive:               {},
	StateChooseProduct:        {},
	StateGetAddress:           {},
	StateGetNationalID:        {},
	StateGetIDPhoto:           {},
	StateGetAmount:            {},
	StateConfirmApplication:   {},
}

// Known reports whether s is a state the machine can dispatch on.
func (s ChatState) Known() bool {
	_, ok := knownStates[s]
	return ok
}

// Normalize maps empty, legacy or corrupted tags to StateNew.
func (s ChatState) Normalize() ChatState {
	up := ChatState(strings.ToUpper(strings.TrimSpace(string(s))))
	if up.Known() {
		return up
	}
	return StateNew
}

// AllStates returns every dispatchable state.
func AllStates() []ChatState {
	out := make([]ChatState, 0, len(knownStates))
	for s := range knownStates {
		out = append(out, s)
	}
	return out
}
