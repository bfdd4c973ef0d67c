package locator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Box is an element bounding box in annotated-image pixels
type Box struct {
	X, Y, W, H float64
}

// Center returns the middle of the box
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Annotation is the element map returned by the annotation service
type Annotation struct {
	Image   []byte      // screenshot with numbered element labels drawn on it
	Boxes   map[int]Box // element id -> bounding box
	Content []string    // per-element text or caption
}

// IDs returns the element ids in ascending order
func (a *Annotation) IDs() []int {
	ids := make([]int, 0, len(a.Boxes))
	for id := range a.Boxes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Annotator detects UI elements in a screenshot and assigns them stable ids
type Annotator interface {
	Annotate(ctx context.Context, png []byte) (*Annotation, error)
}

// HTTPAnnotator talks to an annotation service over JSON
type HTTPAnnotator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPAnnotator returns a client for the service at endpoint
func NewHTTPAnnotator(endpoint string, timeout time.Duration) *HTTPAnnotator {
	return &HTTPAnnotator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type annotateRequest struct {
	Image string `json:"image"`
}

type annotateResponse struct {
	Photo       string          `json:"photo"`
	Coords      json.RawMessage `json:"coords"`
	ContentList json.RawMessage `json:"content_list"`
}

// Annotate posts the screenshot and decodes the element map. The service may
// send coords and content_list either as JSON or as JSON-encoded strings.
func (a *HTTPAnnotator) Annotate(ctx context.Context, png []byte) (*Annotation, error) {
	payload, err := json.Marshal(annotateRequest{Image: base64.StdEncoding.EncodeToString(png)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("annotate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read annotate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("annotation service returned %d: %s", resp.StatusCode, snippet(body))
	}

	var raw annotateResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode annotate response: %w", err)
	}

	ann := &Annotation{Boxes: map[int]Box{}}
	if raw.Photo != "" {
		if ann.Image, err = base64.StdEncoding.DecodeString(raw.Photo); err != nil {
			return nil, fmt.Errorf("decode annotated photo: %w", err)
		}
	}

	var coords map[string][]float64
	if err := unmarshalEmbedded(raw.Coords, &coords); err != nil {
		return nil, fmt.Errorf("decode coords: %w", err)
	}
	for key, v := range coords {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("element id %q is not an integer", key)
		}
		if len(v) != 4 {
			return nil, fmt.Errorf("element %d: want [x, y, w, h], got %v", id, v)
		}
		ann.Boxes[id] = Box{X: v[0], Y: v[1], W: v[2], H: v[3]}
	}

	var content []any
	if err := unmarshalEmbedded(raw.ContentList, &content); err != nil {
		return nil, fmt.Errorf("decode content_list: %w", err)
	}
	for _, c := range content {
		if s, ok := c.(string); ok {
			ann.Content = append(ann.Content, s)
			continue
		}
		b, _ := json.Marshal(c)
		ann.Content = append(ann.Content, string(b))
	}

	return ann, nil
}

// unmarshalEmbedded decodes raw into v, unwrapping one level of string
// encoding. Missing or null values leave v untouched.
func unmarshalEmbedded(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		raw = json.RawMessage(s)
	}
	return json.Unmarshal(raw, v)
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
