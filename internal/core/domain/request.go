package domain

import "strings"

// Request is the request-like bag handed to an operation run.
type Request struct {
	Params  map[string]any `json:"params,omitempty"`
	Query   map[string]any `json:"query,omitempty"`
	Headers map[string]any `json:"headers,omitempty"`
	Body    any            `json:"body,omitempty"`
}

// Response is the response-like bag produced by a pipeline.
type Response struct {
	StatusCode int            `json:"status_code,omitempty"`
	Headers    map[string]any `json:"headers,omitempty"`
	Body       any            `json:"body,omitempty"`
}

// ContentType returns the response content-type header, matched
// case-insensitively.
func (r *Response) ContentType() string {
	if r == nil {
		return ""
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, "content-type") {
			if s, ok := v.(string); ok {
				return s
			}
			if ss, ok := v.([]string); ok && len(ss) > 0 {
				return ss[0]
			}
		}
	}
	return ""
}

// Raw is the input of an operation run.
type Raw struct {
	Request  *Request
	Response *Response
	// Data seeds the execution's data bag.
	Data map[string]any
}
