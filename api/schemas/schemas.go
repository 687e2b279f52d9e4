// File: api/schemas/schemas.go

// Package schemas defines the shared data contracts between the acquisition
// engine and its callers. Task handlers consume these types only; they never
// reach into the internal packages.
package schemas

import "time"

// BackendKind identifies a concrete automation backend implementation.
type BackendKind string

const (
	BackendCDP        BackendKind = "cdp"
	BackendPlaywright BackendKind = "playwright"
	BackendPlainHTTP  BackendKind = "plainhttp"
)

// Capabilities describes what a backend can do. Capability-gated actions are
// checked against these flags before any attempt is made.
type Capabilities struct {
	SupportsJS          bool `json:"supports_js"`
	SupportsScreenshot  bool `json:"supports_screenshot"`
	SupportsInteraction bool `json:"supports_interaction"`
}

// ActionType enumerates the actions that can be executed against a session.
type ActionType string

const (
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionTypeText   ActionType = "type"
	ActionScroll     ActionType = "scroll"
	ActionScreenshot ActionType = "screenshot"
	ActionSubmit     ActionType = "submit"
)

// ActionParams carries the arguments for a single action. Unused fields are
// left at their zero value.
type ActionParams struct {
	URL       string            `json:"url,omitempty"`
	Selector  string            `json:"selector,omitempty"`
	Text      string            `json:"text,omitempty"`
	Direction string            `json:"direction,omitempty"`
	Distance  int               `json:"distance,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	FormIndex int               `json:"form_index,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
	// Headers are merged over the configured defaults for this navigation.
	Headers map[string]string `json:"headers,omitempty"`
	// RequireJS forces a JS-capable backend even for plain navigation.
	RequireJS bool `json:"require_js,omitempty"`
}

// FetchRequest describes one acquisition request.
type FetchRequest struct {
	URL      string            `json:"url"`
	UseCache bool              `json:"use_cache"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	// RequireJS forces a JS-capable backend and participates in the cache
	// fingerprint: a static fetch and a rendered fetch are distinct entries.
	RequireJS  bool `json:"require_js,omitempty"`
	Screenshot bool `json:"screenshot,omitempty"`
}

// FieldKind classifies a form field by its originating element.
type FieldKind string

const (
	FieldInput    FieldKind = "input"
	FieldTextarea FieldKind = "textarea"
	FieldSelect   FieldKind = "select"
)

// FieldDescriptor is one orderable form field. Submit-type inputs are never
// represented here.
type FieldDescriptor struct {
	Kind         FieldKind `json:"kind"`
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	DefaultValue string    `json:"default_value,omitempty"`
}

// FormDescriptor describes one form on the current document. Action is always
// an absolute URL resolved against the page URL.
type FormDescriptor struct {
	Action string            `json:"action"`
	Method string            `json:"method"`
	Fields []FieldDescriptor `json:"fields"`
}

// ImageInfo is one extracted image candidate.
type ImageInfo struct {
	URL      string `json:"url"`
	Alt      string `json:"alt,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Relevant bool   `json:"relevant"`
}

// FetchResult is the structured outcome of any navigate or action request.
// Every public entry point returns one; Error is a human-readable reason and
// is only set when Success is false (or the result is partial).
type FetchResult struct {
	Success   bool             `json:"success"`
	URL       string           `json:"url,omitempty"`
	Title     string           `json:"title,omitempty"`
	Text      string           `json:"text,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
	HTML      string           `json:"html,omitempty"`
	Forms     []FormDescriptor `json:"forms,omitempty"`
	Links     []string         `json:"links,omitempty"`
	Images    []ImageInfo      `json:"images,omitempty"`
	// Screenshot is a data URI (image/png) when capture was requested and the
	// backend supports it.
	Screenshot string      `json:"screenshot,omitempty"`
	Backend    BackendKind `json:"backend,omitempty"`
	FromCache  bool        `json:"from_cache,omitempty"`
	// SessionID identifies the session the result belongs to, for follow-up
	// actions. Cache hits carry no session.
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PageAnalysis is the Analyze() payload: a structural summary of the current
// session document.
type PageAnalysis struct {
	URL      string           `json:"url"`
	Title    string           `json:"title,omitempty"`
	Forms    []FormDescriptor `json:"forms"`
	Links    []string         `json:"links"`
	Images   []ImageInfo      `json:"images"`
	Headings []string         `json:"headings"`
}
