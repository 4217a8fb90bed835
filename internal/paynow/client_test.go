package paynow

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/spec-kit/matchbot/internal/config"
	"github.com/spec-kit/matchbot/internal/domain"
)

const testKey = "secret"

func TestHash_KnownVector(t *testing.T) {
	got := Hash([]string{"1201", "MB-TEST", "2.00", "Message"}, testKey)
	want := "E60BE7A4B7FD76ED7BF329FD612243D76D92E2D6F4DC149F76025E76738CFDBAA86A95959426D39118C166F4CFAF0088C5267560B51C0A1817016417483A7051"
	if got != want {
		t.Errorf("unexpected hash %s", got)
	}
}

func signed(pairs ...string) string {
	var msg message
	for i := 0; i+1 < len(pairs); i += 2 {
		msg = append(msg, field{pairs[i], pairs[i+1]})
	}
	return msg.sign(testKey).encode()
}

type fakePaynow struct {
	mu       sync.Mutex
	server   *httptest.Server
	requests []url.Values
	paths    []string
	status   string
	reply    func(base string) string
}

func newFakePaynow(t *testing.T) *fakePaynow {
	f := &fakePaynow{status: "Awaiting Delivery"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		f.mu.Lock()
		f.requests = append(f.requests, form)
		f.paths = append(f.paths, r.URL.Path)
		reply := f.reply
		status := f.status
		f.mu.Unlock()

		switch r.URL.Path {
		case "/poll":
			_, _ = io.WriteString(w, signed("reference", "MB-1", "paynowreference", "99", "amount", "2.00", "status", status, "pollurl", f.server.URL+"/poll"))
		default:
			if reply != nil {
				_, _ = io.WriteString(w, reply(f.server.URL))
				return
			}
			_, _ = io.WriteString(w, signed("status", "Ok", "browserurl", f.server.URL+"/pay", "pollurl", f.server.URL+"/poll", "paynowreference", "99"))
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePaynow) client() *Client {
	return NewClient(config.PaynowConfig{
		BaseURL:        f.server.URL,
		AuthEmail:      "merchant@example.com",
		TimeoutSeconds: 5,
		Integrations:   map[string]config.PaynowIntegration{"USD": {ID: "1201", Key: testKey}},
	})
}

func TestInitiate_Web(t *testing.T) {
	f := newFakePaynow(t)
	res, err := f.client().Initiate(context.Background(), Request{
		Reference: "MB-1", AmountCents: 200, Currency: "USD", Method: domain.PaymentMethodWeb,
		Email: "rudo@example.com", ResultURL: "https://bot.example/result",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.PollURL != f.server.URL+"/poll" || res.BrowserURL == "" {
		t.Errorf("unexpected initiation %+v", res)
	}
	if f.paths[0] != "/initiatetransaction" {
		t.Errorf("expected web endpoint, got %s", f.paths[0])
	}
	form := f.requests[0]
	if form.Get("amount") != "2.00" || form.Get("authemail") != "rudo@example.com" || form.Get("status") != "Message" {
		t.Errorf("unexpected form %v", form)
	}
	values := []string{form.Get("id"), form.Get("reference"), form.Get("amount"), form.Get("additionalinfo"),
		form.Get("returnurl"), form.Get("resulturl"), form.Get("authemail"), form.Get("status")}
	if form.Get("hash") != Hash(values, testKey) {
		t.Error("request hash does not cover the fields in order")
	}
}

func TestInitiate_MobileUsesRemoteTransaction(t *testing.T) {
	f := newFakePaynow(t)
	f.reply = func(base string) string {
		return signed("status", "Ok", "instructions", "Dial *151#", "pollurl", base+"/poll", "paynowreference", "99")
	}
	res, err := f.client().Initiate(context.Background(), Request{
		Reference: "MB-2", AmountCents: 200, Currency: "usd", Method: domain.PaymentMethodEcoCash, Phone: "263771234567",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if f.paths[0] != "/remotetransaction" {
		t.Errorf("expected remote endpoint, got %s", f.paths[0])
	}
	if f.requests[0].Get("phone") != "0771234567" || f.requests[0].Get("method") != "ecocash" {
		t.Errorf("unexpected mobile fields %v", f.requests[0])
	}
	if f.requests[0].Get("authemail") != "merchant@example.com" {
		t.Error("expected merchant auth email fallback")
	}
	if res.Instructions != "Dial *151#" {
		t.Errorf("unexpected instructions %q", res.Instructions)
	}
}

func TestInitiate_Failures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		f := newFakePaynow(t)
		f.reply = func(string) string { return "status=Error&error=Invalid+amount" }
		_, err := f.client().Initiate(context.Background(), Request{Reference: "MB-3", AmountCents: 200, Currency: "USD", Method: domain.PaymentMethodWeb})
		var perr *ProviderError
		if !errors.As(err, &perr) || !strings.Contains(perr.Message, "Invalid amount") {
			t.Errorf("expected provider error, got %v", err)
		}
	})

	t.Run("tampered hash", func(t *testing.T) {
		f := newFakePaynow(t)
		f.reply = func(base string) string {
			return "status=Ok&pollurl=" + url.QueryEscape(base+"/poll") + "&hash=ABC"
		}
		_, err := f.client().Initiate(context.Background(), Request{Reference: "MB-4", AmountCents: 200, Currency: "USD", Method: domain.PaymentMethodWeb})
		if !errors.Is(err, ErrBadHash) {
			t.Errorf("expected ErrBadHash, got %v", err)
		}
	})

	t.Run("unconfigured currency", func(t *testing.T) {
		f := newFakePaynow(t)
		_, err := f.client().Initiate(context.Background(), Request{Reference: "MB-5", AmountCents: 200, Currency: "ZWG", Method: domain.PaymentMethodWeb})
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
		if len(f.requests) != 0 {
			t.Error("expected no request to be sent")
		}
	})

	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}))
		defer srv.Close()
		c := NewClient(config.PaynowConfig{BaseURL: srv.URL, Integrations: map[string]config.PaynowIntegration{"USD": {ID: "1", Key: testKey}}})
		_, err := c.Initiate(context.Background(), Request{Reference: "MB-6", AmountCents: 200, Currency: "USD", Method: domain.PaymentMethodWeb})
		var perr *ProviderError
		if !errors.As(err, &perr) || perr.Status != http.StatusBadGateway {
			t.Errorf("expected 502 provider error, got %v", err)
		}
	})
}

func TestPoll(t *testing.T) {
	f := newFakePaynow(t)
	c := f.client()
	cases := map[string]domain.PollResult{
		"Awaiting Delivery": domain.PollPaid,
		"Paid":              domain.PollPaid,
		"Sent":              domain.PollPending,
		"Cancelled":         domain.PollFailed,
	}
	for status, want := range cases {
		f.mu.Lock()
		f.status = status
		f.mu.Unlock()
		got, err := c.Poll(context.Background(), "USD", f.server.URL+"/poll")
		if err != nil {
			t.Fatalf("poll %s: %v", status, err)
		}
		if got != want {
			t.Errorf("status %q: expected %s, got %s", status, want, got)
		}
	}
}

func TestParseStatusUpdate(t *testing.T) {
	c := NewClient(config.PaynowConfig{BaseURL: "https://paynow.example", Integrations: map[string]config.PaynowIntegration{"USD": {ID: "1", Key: testKey}}})
	ref, res, err := c.ParseStatusUpdate("USD", signed("reference", "MB-7", "amount", "2.00", "status", "Paid"))
	if err != nil || ref != "MB-7" || res != domain.PollPaid {
		t.Errorf("unexpected update %s %s %v", ref, res, err)
	}
	if _, _, err := c.ParseStatusUpdate("USD", "reference=MB-7&status=Paid&hash=00"); !errors.Is(err, ErrBadHash) {
		t.Errorf("expected ErrBadHash, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(5000); got != "50.00" {
		t.Errorf("expected 50.00, got %s", got)
	}
	if got := FormatAmount(205); got != "2.05" {
		t.Errorf("expected 2.05, got %s", got)
	}
}
