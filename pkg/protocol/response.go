package protocol

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"
)

// Response is a decoded reply from the vendor API.
type Response struct {
	Endpoint   string
	HTTPStatus int
	// Status is the effective status: the embedded "status" field for EmbeddedStatus generations
	// (falling back to HTTPStatus when absent), and HTTPStatus otherwise.
	Status int
	Header http.Header
	Body   []byte
}

// Get returns the value at a gjson path.
func (r *Response) Get(path string) gjson.Result {
	if r == nil || path == "" {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Body, path)
}

// String returns the value at path as a string, or "" if absent.
func (r *Response) String(path string) string {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

// Unmarshal decodes the body into v.
func (r *Response) Unmarshal(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Cookie returns the value of the named cookie set by the response.
func (r *Response) Cookie(name string) string {
	if r == nil || name == "" {
		return ""
	}
	reply := http.Response{Header: r.Header}
	for _, c := range reply.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Evaluate interprets a raw reply according to convention. A non-nil Response is returned
// whenever body is valid JSON, even if err is non-nil, so that callers can still inspect it.
func Evaluate(convention ResponseConvention, endpoint string, httpStatus int, header http.Header, body []byte) (*Response, error) {
	rsp := &Response{
		Endpoint:   endpoint,
		HTTPStatus: httpStatus,
		Status:     httpStatus,
		Header:     header,
		Body:       body,
	}

	switch convention {
	case HTTPStatus:
		if httpStatus != http.StatusOK {
			// Error bodies of this convention are not always JSON.
			if !gjson.ValidBytes(body) {
				return nil, &RequestError{Endpoint: endpoint, Status: httpStatus, Body: body}
			}
			return rsp, &RequestError{Endpoint: endpoint, Status: httpStatus, Body: body}
		}
		if !gjson.ValidBytes(body) {
			return nil, &NonJSONError{Endpoint: endpoint, HTTPStatus: httpStatus, Body: body}
		}
	default:
		if !gjson.ValidBytes(body) {
			return nil, &NonJSONError{Endpoint: endpoint, HTTPStatus: httpStatus, Body: body}
		}
		if status, ok := embeddedStatus(body); ok {
			rsp.Status = status
		}
		if rsp.Status != http.StatusOK {
			return rsp, &RequestError{Endpoint: endpoint, Status: rsp.Status, Body: body}
		}
	}
	return rsp, nil
}

func embeddedStatus(body []byte) (int, bool) {
	v := gjson.GetBytes(body, "status")
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), true
	case gjson.String:
		if n, err := strconv.Atoi(v.Str); err == nil {
			return n, true
		}
	}
	return 0, false
}
