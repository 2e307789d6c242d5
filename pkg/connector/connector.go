package connector

import (
	"context"
	"net/http"
	"time"
)

// MaxResponseLength caps the maximum byte-length of responses that transports must support.
const MaxResponseLength = 1 << 20

// DefaultTimeout bounds a single HTTP exchange. Polling loops enforce their own ceilings on top.
const DefaultTimeout = 60 * time.Second

// Request is a fully-encoded API request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Reply is the raw result of an exchange. A Reply with a non-2xx StatusCode is not an error at
// this layer; interpreting status codes is left to the protocol package.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

//go:generate mockgen -destination=../../mocks/transport.go -package=mocks -mock_names=Transport=Transport github.com/openev/carwings/pkg/connector Transport

// Transport sends requests to the vendor API.
type Transport interface {
	// Send performs a single request/response exchange.
	//
	// Errors returned by Send should be *protocol.TransportError values. Depending on the error, the
	// server may have received and even acted on the request; callers can use
	// protocol.MayHaveSucceeded to find out whether this is possible.
	//
	// Implementations must be thread safe.
	Send(ctx context.Context, request *Request) (*Reply, error)
}
