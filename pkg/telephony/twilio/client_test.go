package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		AccountSID:   "AC123",
		AuthToken:    "secret",
		FromNumber:   "+15550001111",
		BaseURL:      baseURL,
		HTTPTimeout: 2 * time.Second,
		// A short first retry keeps the test fast while leaving headroom for
		// the backoff to actually fire before MaxElapsedTime cuts it off.
		RetryInterval: 10 * time.Millisecond,
		MaxRetryTime:  2 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{AuthToken: "x", FromNumber: "+1"}, nil); err == nil {
		t.Fatalf("expected error for missing account sid")
	}
	if _, err := NewClient(Config{AccountSID: "AC1", FromNumber: "+1"}, nil); err == nil {
		t.Fatalf("expected error for missing auth token")
	}
	if _, err := NewClient(Config{AccountSID: "AC1", AuthToken: "x"}, nil); err == nil {
		t.Fatalf("expected error for missing from number")
	}
}

func TestPlaceCall_SendsFormAndAuth(t *testing.T) {
	t.Parallel()

	var gotPath, gotTo, gotFrom, gotTwiml string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotTwiml = r.PostFormValue("Twiml")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA777","status":"queued"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	call, err := c.PlaceCall(context.Background(), CallRequest{
		To:        "+15552223333",
		StreamURL: "wss://prescreen.example.com/twilio",
		CustomParameters: map[string]string{
			"user_id": "u1",
			"doc_id":  "d1",
		},
	})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}

	if call.SID != "CA777" || call.Status != "queued" {
		t.Fatalf("call=%+v", call)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Fatalf("basic auth=%q/%q", gotUser, gotPass)
	}
	if gotTo != "+15552223333" || gotFrom != "+15550001111" {
		t.Fatalf("To=%q From=%q", gotTo, gotFrom)
	}
	for _, want := range []string{
		`<Connect>`,
		`<Stream url="wss://prescreen.example.com/twilio">`,
		`<Parameter name="doc_id" value="d1">`,
		`<Parameter name="user_id" value="u1">`,
	} {
		if !strings.Contains(gotTwiml, want) {
			t.Fatalf("twiml missing %q:\n%s", want, gotTwiml)
		}
	}
}

func TestPlaceCall_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"queued"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	call, err := c.PlaceCall(context.Background(), CallRequest{To: "+1555", StreamURL: "wss://x/twilio"})
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	if call.SID != "CA1" {
		t.Fatalf("sid=%q", call.SID)
	}
	if calls.Load() != 2 {
		t.Fatalf("requests=%d, want 2", calls.Load())
	}
}

func TestPlaceCall_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid to number"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.PlaceCall(context.Background(), CallRequest{To: "bogus", StreamURL: "wss://x/twilio"})
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "invalid to number") {
		t.Fatalf("err=%v, want provider message", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("requests=%d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestStreamTwiML_ParameterOrderDeterministic(t *testing.T) {
	t.Parallel()

	a, err := StreamTwiML("wss://x/twilio", map[string]string{"b": "2", "a": "1", "c": "3"})
	if err != nil {
		t.Fatalf("StreamTwiML: %v", err)
	}
	b, err := StreamTwiML("wss://x/twilio", map[string]string{"c": "3", "a": "1", "b": "2"})
	if err != nil {
		t.Fatalf("StreamTwiML: %v", err)
	}
	if a != b {
		t.Fatalf("twiml not deterministic:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(a, "<?xml") {
		t.Fatalf("missing xml header: %s", a)
	}
}
