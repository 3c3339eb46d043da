package frame

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the purpose of a frame on the wire
type Kind string

const (
	KindUnknown   Kind = "Unknown"
	KindHeartbeat Kind = "Heartbeat"
	KindRequest   Kind = "Request"
	KindResponse  Kind = "Response"
)

// URL carries the absolute request URL inside a frame
type URL struct {
	URI string `json:"Uri"`
}

// Frame is the JSON envelope exchanged between controller and workers.
// Requests carry method, URL, headers and payload; responses carry status
// code, content type, headers and payload. Heartbeats carry the worker id
// in Data.
type Frame struct {
	GUID          string      `json:"GUID"`
	Kind          Kind        `json:"Type"`
	TimestampUTC  time.Time   `json:"TimestampUtc"`
	ExpirationUTC *time.Time  `json:"ExpirationUtc,omitempty"`
	StatusCode    int         `json:"StatusCode,omitempty"`
	Method        string      `json:"Method,omitempty"`
	ContentType   string      `json:"ContentType,omitempty"`
	URL           *URL        `json:"Url,omitempty"`
	Headers       http.Header `json:"Headers,omitempty"`
	Data          []byte      `json:"Data,omitempty"`
}

// NewRequest builds a request frame with a fresh correlation id
func NewRequest(method, absoluteURL string, headers http.Header, body []byte) *Frame {
	return &Frame{
		GUID:         uuid.New().String(),
		Kind:         KindRequest,
		TimestampUTC: time.Now().UTC(),
		Method:       method,
		URL:          &URL{URI: absoluteURL},
		Headers:      canonicalize(headers),
		Data:         body,
	}
}

// NewResponse builds a response frame. The correlation id is set by the
// worker dispatch loop from the incoming request frame.
func NewResponse(statusCode int, contentType string, headers http.Header, body []byte) (*Frame, error) {
	if err := validateStatusCode(statusCode); err != nil {
		return nil, err
	}
	return &Frame{
		GUID:         uuid.New().String(),
		Kind:         KindResponse,
		TimestampUTC: time.Now().UTC(),
		StatusCode:   statusCode,
		ContentType:  contentType,
		Headers:      canonicalize(headers),
		Data:         body,
	}, nil
}

// NewHeartbeat builds a heartbeat probe carrying the worker id
func NewHeartbeat(workerID uuid.UUID) *Frame {
	return &Frame{
		GUID:         uuid.New().String(),
		Kind:         KindHeartbeat,
		TimestampUTC: time.Now().UTC(),
		Data:         []byte(workerID.String()),
	}
}

// WorkerID extracts the worker id from a heartbeat frame's payload
func (f *Frame) WorkerID() (uuid.UUID, error) {
	id, err := uuid.Parse(string(f.Data))
	if err != nil {
		return uuid.Nil, fmt.Errorf("frame carries no worker id: %w", err)
	}
	return id, nil
}

// CorrelationID parses the frame's GUID
func (f *Frame) CorrelationID() (uuid.UUID, error) {
	return uuid.Parse(f.GUID)
}

// Path returns the URL path with the query string excluded. Empty when the
// frame carries no URL.
func (f *Frame) Path() string {
	u := f.parsedURL()
	if u == nil {
		return ""
	}
	return u.Path
}

// Query returns the raw query string, without the leading '?'
func (f *Frame) Query() string {
	u := f.parsedURL()
	if u == nil {
		return ""
	}
	return u.RawQuery
}

// Segments returns the path split on '/', empty segments removed
func (f *Frame) Segments() []string {
	var segments []string
	for _, s := range strings.Split(f.Path(), "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func (f *Frame) parsedURL() *url.URL {
	if f.URL == nil {
		return nil
	}
	u, err := url.Parse(f.URL.URI)
	if err != nil {
		return nil
	}
	return u
}

// SetHeader sets a header value, canonicalizing the name
func (f *Frame) SetHeader(name, value string) {
	if f.Headers == nil {
		f.Headers = http.Header{}
	}
	f.Headers.Set(name, value)
}

// Header returns the first value for a header name, case-insensitively
func (f *Frame) Header(name string) string {
	return f.Headers.Get(name)
}

// Encode serializes the frame to its JSON wire form
func Encode(f *Frame) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Decode parses a frame from its JSON wire form. Unknown fields are
// ignored; missing optionals keep their zero values; the kind defaults to
// Unknown. Out-of-range status codes are rejected.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch f.Kind {
	case KindHeartbeat, KindRequest, KindResponse:
	default:
		f.Kind = KindUnknown
	}
	f.Headers = canonicalize(f.Headers)
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Frame) validate() error {
	if f.StatusCode != 0 {
		if err := validateStatusCode(f.StatusCode); err != nil {
			return err
		}
	}
	return nil
}

func validateStatusCode(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("status code %d out of range [100, 599]", code)
	}
	return nil
}

// canonicalize rebuilds a header map with canonical MIME keys so lookups
// are case-insensitive regardless of how the peer spelled them
func canonicalize(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for name, values := range h {
		key := textproto.CanonicalMIMEHeaderKey(name)
		out[key] = append(out[key], values...)
	}
	return out
}
