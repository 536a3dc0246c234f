package pii

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"taxvault/pkg/domain"
	"taxvault/pkg/gcp"
)

func newTestDetector(t *testing.T, handler http.HandlerFunc) *DLPDetector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	d, err := NewDLPDetector("test-project", gcp.StaticTokenProvider("test-token"))
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	d.baseURL = srv.URL
	return d
}

func TestDLPDetectorMapsFindings(t *testing.T) {
	text := "Name: Jane Doe, SSN 123-45-6789"
	d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing bearer token")
		}
		var req inspectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Item.Value != text {
			t.Errorf("detector mutated the text: %q", req.Item.Value)
		}
		if len(req.InspectConfig.CustomInfoTypes) != 1 {
			t.Errorf("expected custom SSN info type")
		}
		w.Header().Set("Content-Type", "application/json")
		// Byte ranges arrive as strings in proto JSON.
		w.Write([]byte(`{"result":{"findings":[
			{"quote":"Jane Doe","infoType":{"name":"PERSON_NAME"},"likelihood":"LIKELY","location":{"byteRange":{"start":"6","end":"14"}}},
			{"quote":"Name","infoType":{"name":"PERSON_NAME"},"likelihood":"LIKELY","location":{"byteRange":{"start":"0","end":"4"}}},
			{"quote":"123-45-6789","infoType":{"name":"US_SOCIAL_SECURITY_NUMBER"},"likelihood":"VERY_LIKELY","location":{"byteRange":{"start":20,"end":31}}}
		]}}`))
	})

	findings, err := d.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings after label filtering, got %d: %v", len(findings), findings)
	}
	for _, f := range findings {
		if text[f.Start:f.End] != f.Quote {
			t.Fatalf("%s offsets do not index the quote: %q vs %q", f.Category, text[f.Start:f.End], f.Quote)
		}
	}
}

func TestDLPDetectorServerErrorIsTransport(t *testing.T) {
	d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"backend unavailable"}}`))
	})
	_, err := d.Detect(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDLPDetectorMergesSpacedSSNs(t *testing.T) {
	text := "spouse social security no. 321 54 9876"
	d := newTestDetector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"findings":[]}}`))
	})
	findings, err := d.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(findings) != 1 || findings[0].Quote != "321 54 9876" {
		t.Fatalf("expected the spaced SSN finding, got %v", findings)
	}
}
