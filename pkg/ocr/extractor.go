// Package ocr adapts external text/geometry extraction services. Extractors
// return the canonical concatenated text plus per-run offsets into it; all
// downstream PII offset arithmetic depends on that text staying byte-for-byte
// stable, so adapters never re-normalize after building it.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxvault/pkg/domain"
	"taxvault/pkg/gcp"
)

// Extractor produces geometry-aware OCR text for a document.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (domain.DocumentText, error)
}

// DocAIExtractor calls the Document AI process endpoint.
type DocAIExtractor struct {
	processorName string
	baseURL       string
	tokens        gcp.TokenProvider
	httpClient    *http.Client
}

// NewDocAIExtractor constructs the adapter for one processor.
func NewDocAIExtractor(projectID, location, processorID string, tokens gcp.TokenProvider) (*DocAIExtractor, error) {
	projectID = strings.TrimSpace(projectID)
	processorID = strings.TrimSpace(processorID)
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("docai project id and processor id required")
	}
	location = strings.TrimSpace(location)
	if location == "" {
		location = "us"
	}
	if tokens == nil {
		return nil, fmt.Errorf("docai token provider required")
	}
	return &DocAIExtractor{
		processorName: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
		baseURL:       fmt.Sprintf("https://%s-documentai.googleapis.com/v1", location),
		tokens:        tokens,
		httpClient:    &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Extract runs OCR and converts the layout into reading-order runs with
// offsets into the returned text.
func (e *DocAIExtractor) Extract(ctx context.Context, data []byte, mimeType string) (domain.DocumentText, error) {
	reqBody := processRequest{
		RawDocument: rawDocument{
			Content:  base64.StdEncoding.EncodeToString(data),
			MimeType: mimeType,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return domain.DocumentText{}, err
	}
	url := fmt.Sprintf("%s/%s:process", e.baseURL, e.processorName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.DocumentText{}, err
	}
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return domain.DocumentText{}, fmt.Errorf("docai token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return domain.DocumentText{}, domain.Transport("docai process", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr googleError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		switch {
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnsupportedMediaType:
			return domain.DocumentText{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedDocument, msg)
		default:
			return domain.DocumentText{}, domain.Transport("docai process", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
		}
	}
	var out processResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.DocumentText{}, domain.Transport("docai decode", err)
	}
	return docToDocumentText(out.Document)
}

func docToDocumentText(doc apiDocument) (domain.DocumentText, error) {
	result := domain.DocumentText{Text: doc.Text}
	for i, page := range doc.Pages {
		number := int(page.PageNumber)
		if number == 0 {
			number = i + 1
		}
		pt := domain.PageText{
			Number: number,
			Width:  page.Dimension.Width,
			Height: page.Dimension.Height,
		}
		for _, block := range page.Blocks {
			box, ok := polyToRect(block.Layout.BoundingPoly)
			if !ok || block.Layout.TextAnchor == nil {
				continue
			}
			// One run per text segment keeps run intervals contiguous even
			// when a block anchors disjoint pieces of the full text.
			for _, seg := range block.Layout.TextAnchor.TextSegments {
				start := int(seg.StartIndex)
				end := int(seg.EndIndex)
				if end <= start || end > len(doc.Text) {
					continue
				}
				pt.Runs = append(pt.Runs, domain.TextRun{
					Text:  doc.Text[start:end],
					Page:  number,
					Start: start,
					End:   end,
					Box:   box,
				})
			}
		}
		result.Pages = append(result.Pages, pt)
	}
	if len(result.Pages) == 0 {
		return domain.DocumentText{}, fmt.Errorf("%w: no pages recognized", domain.ErrUnsupportedDocument)
	}
	return result, nil
}

func polyToRect(poly *boundingPoly) (domain.Rect, bool) {
	if poly == nil || len(poly.NormalizedVertices) == 0 {
		return domain.Rect{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range poly.NormalizedVertices {
		minX = math.Min(minX, v.X)
		minY = math.Min(minY, v.Y)
		maxX = math.Max(maxX, v.X)
		maxY = math.Max(maxY, v.Y)
	}
	if maxX <= minX || maxY <= minY {
		return domain.Rect{}, false
	}
	return domain.Rect{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
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

type processRequest struct {
	RawDocument rawDocument `json:"rawDocument"`
}

type rawDocument struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type processResponse struct {
	Document apiDocument `json:"document"`
}

type apiDocument struct {
	Text  string    `json:"text"`
	Pages []apiPage `json:"pages"`
}

type apiPage struct {
	PageNumber int64        `json:"pageNumber"`
	Dimension  apiDimension `json:"dimension"`
	Blocks     []apiBlock   `json:"blocks"`
}

type apiDimension struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type apiBlock struct {
	Layout apiLayout `json:"layout"`
}

type apiLayout struct {
	TextAnchor   *textAnchor   `json:"textAnchor"`
	BoundingPoly *boundingPoly `json:"boundingPoly"`
}

type textAnchor struct {
	TextSegments []textSegment `json:"textSegments"`
}

type textSegment struct {
	StartIndex stringInt64 `json:"startIndex"`
	EndIndex   stringInt64 `json:"endIndex"`
}

type boundingPoly struct {
	NormalizedVertices []vertex `json:"normalizedVertices"`
}

type vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type googleError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
