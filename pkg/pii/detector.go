// Package pii adapts sensitive-span detection services. Detectors receive
// the canonical concatenated OCR text and return findings whose offsets
// index that exact text.
package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxvault/pkg/domain"
	"taxvault/pkg/gcp"
)

// Detector finds sensitive spans in text.
type Detector interface {
	Detect(ctx context.Context, text string) ([]domain.PiiFinding, error)
}

// Info types inspected on tax forms, mirroring the product's DLP template.
var inspectedInfoTypes = []string{
	"US_SOCIAL_SECURITY_NUMBER",
	"PERSON_NAME",
	"STREET_ADDRESS",
	"US_STATE",
	"PHONE_NUMBER",
	"EMAIL_ADDRESS",
	"DATE_OF_BIRTH",
}

// Single-word form labels that the person-name detector keeps flagging on
// 1040s. Findings equal to one of these are dropped.
var formFieldLabels = map[string]struct{}{
	"firm": {}, "name": {}, "address": {}, "city": {}, "state": {},
	"zip": {}, "date": {}, "signature": {}, "title": {}, "employer": {},
	"spouse": {},
}

// DLPDetector calls the Cloud DLP content inspect endpoint. Spaced-out SSNs
// that OCR splits into single digits are caught by a local supplemental scan
// (see ScanSpacedSSNs) so the text sent upstream stays byte-identical to the
// offset space.
type DLPDetector struct {
	parent     string
	baseURL    string
	tokens     gcp.TokenProvider
	httpClient *http.Client
}

// NewDLPDetector constructs the adapter for one project.
func NewDLPDetector(projectID string, tokens gcp.TokenProvider) (*DLPDetector, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("dlp project id required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("dlp token provider required")
	}
	return &DLPDetector{
		parent:     "projects/" + projectID,
		baseURL:    "https://dlp.googleapis.com/v2",
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Detect inspects text and merges upstream findings with the local
// spaced-SSN scan, deduplicated by overlap.
func (d *DLPDetector) Detect(ctx context.Context, text string) ([]domain.PiiFinding, error) {
	reqBody := inspectRequest{}
	for _, name := range inspectedInfoTypes {
		reqBody.InspectConfig.InfoTypes = append(reqBody.InspectConfig.InfoTypes, infoType{Name: name})
	}
	reqBody.InspectConfig.CustomInfoTypes = []customInfoType{{
		InfoType:   infoType{Name: "SSN_PATTERN"},
		Regex:      regexType{Pattern: `\b\d{3}-\d{2}-\d{4}\b`},
		Likelihood: "LIKELY",
	}}
	reqBody.InspectConfig.MinLikelihood = "LIKELY"
	reqBody.InspectConfig.IncludeQuote = true
	reqBody.Item.Value = text

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s/content:inspect", d.baseURL, d.parent)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	token, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("dlp token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transport("dlp inspect", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr googleError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return nil, domain.Transport("dlp inspect", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	var out inspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.Transport("dlp decode", err)
	}

	findings := make([]domain.PiiFinding, 0, len(out.Result.Findings))
	for _, f := range out.Result.Findings {
		category := f.InfoType.Name
		quote := f.Quote
		if category == "PERSON_NAME" {
			if _, blacklisted := formFieldLabels[strings.ToLower(strings.TrimSpace(quote))]; blacklisted {
				continue
			}
		}
		start := int(f.Location.ByteRange.Start)
		end := int(f.Location.ByteRange.End)
		if end <= start || end > len(text) {
			continue
		}
		findings = append(findings, domain.PiiFinding{
			Category:   category,
			Quote:      quote,
			Start:      start,
			End:        end,
			Likelihood: f.Likelihood,
		})
	}
	return MergeFindings(findings, ScanSpacedSSNs(text)), nil
}

// MergeFindings appends extras that do not overlap an existing finding.
func MergeFindings(base, extras []domain.PiiFinding) []domain.PiiFinding {
	out := base
	for _, extra := range extras {
		overlaps := false
		for _, f := range base {
			if extra.Start < f.End && f.Start < extra.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, extra)
		}
	}
	return out
}

// stringInt64 decodes proto JSON int64 values, which arrive as either JSON
// numbers or quoted strings.
type stringInt64 int64

func (s *stringInt64) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*s = stringInt64(n)
	return nil
}

type inspectRequest struct {
	InspectConfig struct {
		InfoTypes       []infoType       `json:"infoTypes"`
		CustomInfoTypes []customInfoType `json:"customInfoTypes,omitempty"`
		MinLikelihood   string           `json:"minLikelihood,omitempty"`
		IncludeQuote    bool             `json:"includeQuote"`
	} `json:"inspectConfig"`
	Item struct {
		Value string `json:"value"`
	} `json:"item"`
}

type infoType struct {
	Name string `json:"name"`
}

type customInfoType struct {
	InfoType   infoType  `json:"infoType"`
	Regex      regexType `json:"regex"`
	Likelihood string    `json:"likelihood,omitempty"`
}

type regexType struct {
	Pattern string `json:"pattern"`
}

type inspectResponse struct {
	Result struct {
		Findings []apiFinding `json:"findings"`
	} `json:"result"`
}

type apiFinding struct {
	Quote      string   `json:"quote"`
	InfoType   infoType `json:"infoType"`
	Likelihood string   `json:"likelihood"`
	Location   struct {
		ByteRange struct {
			Start stringInt64 `json:"start"`
			End   stringInt64 `json:"end"`
		} `json:"byteRange"`
	} `json:"location"`
}

type googleError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
