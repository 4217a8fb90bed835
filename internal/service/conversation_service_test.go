package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/events"
	"github.com/spec-kit/matchbot/internal/media"
	"github.com/spec-kit/matchbot/internal/rules"
)

type chat struct {
	t     *testing.T
	h     *harness
	phone string
	seq   int
}

func (c *chat) say(text string) []sent {
	c.t.Helper()
	c.seq++
	c.h.sender.reset()
	err := c.h.conversation.HandleMessage(context.Background(), domain.InboundMessage{
		MessageID: fmt.Sprintf("%s-%d", c.phone, c.seq),
		UserPhone: c.phone,
		Text:      text,
	})
	if err != nil {
		c.t.Fatalf("handle %q: %v", text, err)
	}
	return c.h.sender.all()
}

func (c *chat) state() domain.ChatState {
	id := c.h.store.byPhone[c.phone]
	return c.h.store.user(id).State
}

func joined(msgs []sent) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func TestConversationOnboardingToUnlock(t *testing.T) {
	h := newTestHarness(t)
	h.completeProfile("263775555551", domain.GenderFemale, "girlfriend", 22, domain.StateAwaitingMatches)
	completed := countEvents(h, events.EventProfileCompleted)

	c := &chat{t: t, h: h, phone: "263774444441"}
	for _, in := range []string{"hi", "1", "2", "1", "Tendai", "27", "harare"} {
		c.say(in)
	}
	if c.state() != domain.StateGetPhone {
		t.Fatalf("expected GET_PHONE, got %s", c.state())
	}

	out := joined(c.say("0771234567"))
	if c.state() != domain.StateChooseCurrency {
		t.Fatalf("expected CHOOSE_CURRENCY after matches, got %s", c.state())
	}
	if !strings.Contains(out, "🔒 locked") {
		t.Errorf("expected locked preview, got %q", out)
	}
	if strings.Contains(out, "263775555551") {
		t.Error("expected contact withheld before payment")
	}
	if *completed != 1 {
		t.Errorf("expected one profile completed event, got %d", *completed)
	}

	c.say("1")
	c.say("1")
	if c.state() != domain.StateAwaitingPaymentInput {
		t.Fatalf("expected AWAITING_PAYMENT_INPUT, got %s", c.state())
	}
	out = joined(c.say("SAME"))
	if c.state() != domain.StatePaymentPending {
		t.Fatalf("expected PAYMENT_PENDING, got %s", c.state())
	}
	if !strings.Contains(out, "Dial *151#") {
		t.Errorf("expected provider instructions, got %q", out)
	}
	if h.store.sessionCount() != 1 {
		t.Fatalf("expected one session, got %d", h.store.sessionCount())
	}

	c.say("hello?")
	if c.state() != domain.StatePaymentPending {
		t.Errorf("expected to keep waiting, got %s", c.state())
	}

	h.provider.pollResult = domain.PollPaid
	out = joined(c.say("STATUS"))
	if c.state() != domain.StateActive {
		t.Errorf("expected ACTIVE after settlement, got %s", c.state())
	}
	if !strings.Contains(out, "https://wa.me/263775555551") {
		t.Errorf("expected revealed contact, got %q", out)
	}
	id := h.store.byPhone[c.phone]
	if !h.store.user(id).IsUnlocked {
		t.Error("expected user unlocked")
	}
}

func TestConversationActiveUserKeepsUnlockedMatches(t *testing.T) {
	h := newTestHarness(t)
	h.completeProfile("263775555552", domain.GenderFemale, "girlfriend", 22, domain.StateAwaitingMatches)
	c := &chat{t: t, h: h, phone: "263774444448"}
	for _, in := range []string{"hi", "1", "2", "1", "Tendai", "27", "harare", "0771234567", "1", "1", "SAME"} {
		c.say(in)
	}
	h.provider.pollResult = domain.PollPaid
	c.say("STATUS")
	if c.state() != domain.StateActive {
		t.Fatalf("expected ACTIVE, got %s", c.state())
	}
	id := h.store.byPhone[c.phone]

	out := c.say("STATUS")
	if !strings.Contains(joined(out), "https://wa.me/263775555552") {
		t.Errorf("expected STATUS to re-deliver the unlocked contact, got %q", joined(out))
	}
	var media bool
	for _, m := range out {
		if m.Media != "" {
			media = true
		}
	}
	if media {
		t.Error("expected text delivery for a match without a picture")
	}

	c.say("thanks!")
	if c.state() != domain.StateActive {
		t.Errorf("expected to stay ACTIVE, got %s", c.state())
	}
	if !h.store.profile(id).Complete() || !h.store.user(id).IsUnlocked {
		t.Error("expected unlocked profile to survive ordinary messages")
	}

	c.say("NEW")
	if c.state() != domain.StateChooseUserType {
		t.Errorf("expected a new search to start, got %s", c.state())
	}
	if h.store.profile(id).Complete() {
		t.Error("expected profile reset for the new search")
	}
}

func TestConversationRevealsExactlyPreviewedMatches(t *testing.T) {
	h := newTestHarness(t)
	for i := 1; i <= 8; i++ {
		h.completeProfile(fmt.Sprintf("2637755555%02d", i), domain.GenderFemale, "girlfriend", 22, domain.StateAwaitingMatches)
	}
	c := &chat{t: t, h: h, phone: "263774444449"}
	for _, in := range []string{"hi", "1", "2", "1", "Tendai", "27", "harare"} {
		c.say(in)
	}
	previewed := matchNames(c.say("0771234567"))
	if len(previewed) != 3 {
		t.Fatalf("expected 3 previews from 8 candidates, got %v", previewed)
	}
	c.say("1")
	c.say("1")
	c.say("SAME")

	// The first previewed candidate leaves before the payment settles.
	gone := h.store.byPhone["2637755555"+previewed[0][len("User 5"):]]
	h.store.removeProfile(gone)

	h.provider.pollResult = domain.PollPaid
	revealed := matchNames(c.say("STATUS"))
	want := previewed[1:]
	if strings.Join(revealed, ",") != strings.Join(want, ",") {
		t.Errorf("expected revealed %v to equal previewed %v minus the departed match", revealed, want)
	}
}

// matchNames extracts the names shown in match cards, in delivery order.
func matchNames(msgs []sent) []string {
	var out []string
	for _, m := range msgs {
		if !strings.HasPrefix(m.Text, "💘 Match") {
			continue
		}
		for _, line := range strings.Split(m.Text, "\n") {
			if name, ok := strings.CutPrefix(line, "Name: "); ok {
				out = append(out, name)
			}
		}
	}
	return out
}

func TestConversationSubmitsLoanApplication(t *testing.T) {
	h, err := newHarness(func() (*rules.Rules, error) {
		r, err := rules.Default()
		if err != nil {
			return nil, err
		}
		return r, r.EnableFlows("finance")
	})
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	submitted := countEvents(h, events.EventApplicationSubmitted)
	c := &chat{t: t, h: h, phone: "263774444450"}
	for _, in := range []string{"hi", "3", "1", "Rudo Moyo", "30", "12 Samora Machel Ave, Harare", "63-123456A78"} {
		c.say(in)
	}
	if c.state() != domain.StateGetIDPhoto {
		t.Fatalf("expected GET_ID_PHOTO, got %s", c.state())
	}
	id := h.store.byPhone[c.phone]
	err = h.conversation.HandleMessage(context.Background(), domain.InboundMessage{
		MessageID: "id-photo-1", UserPhone: c.phone, MediaRef: "https://gateway.test/dl/id.jpg",
	})
	if err != nil {
		t.Fatalf("id photo: %v", err)
	}
	if got := h.store.profile(id).IDPhoto; got != "s3://pics/"+id+".jpg" {
		t.Errorf("expected archived id photo, got %q", got)
	}
	c.say("2500")
	if c.state() != domain.StateConfirmApplication {
		t.Fatalf("expected CONFIRM_APPLICATION, got %s", c.state())
	}

	out := joined(c.say("YES"))
	if !strings.Contains(out, "submitted successfully") {
		t.Errorf("expected submission confirmation, got %q", out)
	}
	if c.state() != domain.StateNew {
		t.Errorf("expected NEW after submission, got %s", c.state())
	}
	apps, _ := h.store.List(context.Background(), 10)
	if len(apps) != 1 {
		t.Fatalf("expected one application, got %d", len(apps))
	}
	a := apps[0]
	if a.Product != "micro_business" || a.FullName != "Rudo Moyo" || a.NationalID != "63123456A78" || a.AmountUnits != 2500 {
		t.Errorf("unexpected application %+v", a)
	}
	if h.store.profile(id).LoanProduct != "" {
		t.Error("expected draft cleared after submission")
	}
	if *submitted != 1 {
		t.Errorf("expected one submitted event, got %d", *submitted)
	}
}

func TestConversationDropsDuplicateMessages(t *testing.T) {
	h := newTestHarness(t)
	msg := domain.InboundMessage{MessageID: "wamid-1", UserPhone: "263774444442@c.us", Text: "hi"}

	if err := h.conversation.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("first: %v", err)
	}
	first := len(h.sender.all())
	if err := h.conversation.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if len(h.sender.all()) != first {
		t.Error("expected no reply to a duplicate delivery")
	}
	if h.store.applied != 1 {
		t.Errorf("expected one applied turn, got %d", h.store.applied)
	}
}

func TestConversationRecomputesAfterStateConflict(t *testing.T) {
	h := newTestHarness(t)
	h.store.conflicts = 1
	c := &chat{t: t, h: h, phone: "263774444443"}

	c.say("hi")
	if c.state() != domain.StateChooseUserType {
		t.Errorf("expected CHOOSE_USER_TYPE after retry, got %s", c.state())
	}
	if h.store.applied != 1 {
		t.Errorf("expected one applied turn, got %d", h.store.applied)
	}
}

func TestConversationGivesUpAfterRepeatedConflicts(t *testing.T) {
	h := newTestHarness(t)
	h.store.conflicts = maxTurnAttempts
	err := h.conversation.HandleMessage(context.Background(), domain.InboundMessage{MessageID: "m", UserPhone: "263774444444", Text: "hi"})
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(h.sender.all()) != 0 {
		t.Error("expected no reply when the turn was not committed")
	}
}

func TestConversationStorageFailureAllowsRedelivery(t *testing.T) {
	h := newTestHarness(t)
	h.store.applyErr = errStorage
	msg := domain.InboundMessage{MessageID: "wamid-2", UserPhone: "263774444445", Text: "hi"}

	if err := h.conversation.HandleMessage(context.Background(), msg); !errors.Is(err, errStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(h.sender.all()) != 0 {
		t.Error("expected no reply on storage failure")
	}

	h.store.applyErr = nil
	if err := h.conversation.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(h.sender.all()) == 0 {
		t.Error("expected redelivered message to be processed")
	}
}

func TestConversationArchivesPicture(t *testing.T) {
	h := newTestHarness(t)
	id := h.store.addUser(
		domain.User{Phone: "263774444446", State: domain.StateGetPhoto, Flow: "student", Gender: domain.GenderFemale},
		domain.Profile{Name: "Rudo", Age: 21, Location: "Harare", Intent: "girlfriend", PreferredGender: domain.GenderMale, AgeMin: 18, AgeMax: 25},
	)

	err := h.conversation.HandleMessage(context.Background(), domain.InboundMessage{
		MessageID: "img-1", UserPhone: "263774444446", MediaRef: "https://gateway.test/dl/abc.jpg",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := h.store.profile(id).Picture; got != "s3://pics/"+id+".jpg" {
		t.Errorf("expected archived reference, got %q", got)
	}
	if h.store.user(id).State != domain.StateGetPhone {
		t.Errorf("expected GET_PHONE, got %s", h.store.user(id).State)
	}
}

func TestConversationKeepsGatewayLinkWhenArchiveFails(t *testing.T) {
	h := newTestHarness(t)
	h.conversation.archive = stubArchive{err: errors.New("bucket missing")}
	id := h.store.addUser(
		domain.User{Phone: "263774444447", State: domain.StateGetPhoto, Flow: "student", Gender: domain.GenderFemale},
		domain.Profile{Name: "Rudo", Age: 21, Location: "Harare", Intent: "girlfriend", PreferredGender: domain.GenderMale, AgeMin: 18, AgeMax: 25},
	)

	err := h.conversation.HandleMessage(context.Background(), domain.InboundMessage{
		MessageID: "img-2", UserPhone: "263774444447", MediaRef: "https://gateway.test/dl/def.jpg",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := h.store.profile(id).Picture; got != "https://gateway.test/dl/def.jpg" {
		t.Errorf("expected gateway link kept, got %q", got)
	}
}

func TestConversationRejectsInvalidSender(t *testing.T) {
	h := newTestHarness(t)
	err := h.conversation.HandleMessage(context.Background(), domain.InboundMessage{UserPhone: "not-a-phone", Text: "hi"})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNormalizeSender(t *testing.T) {
	cases := map[string]string{
		"263771234567@c.us": "263771234567",
		"+263771234567":     "263771234567",
		" 263771234567 ":    "263771234567",
	}
	for in, want := range cases {
		got, ok := NormalizeSender(in)
		if !ok || got != want {
			t.Errorf("expected %q for %q, got %q (%v)", want, in, got, ok)
		}
	}
	for _, in := range []string{"", "1234", "26377abc4567"} {
		if _, ok := NormalizeSender(in); ok {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}

func TestPassthroughArchiveIsDefault(t *testing.T) {
	svc := NewConversationService(ConversationDependencies{Logger: zap.NewNop()})
	if _, ok := svc.archive.(media.Passthrough); !ok {
		t.Errorf("expected passthrough archive, got %T", svc.archive)
	}
}
