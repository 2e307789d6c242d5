// Package inet implements connector.Transport over HTTPS.
package inet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/openev/carwings/internal/log"
	"github.com/openev/carwings/pkg/connector"
	"github.com/openev/carwings/pkg/protocol"
)

func ReadWithContext(ctx context.Context, r io.Reader, p []byte) ([]byte, error) {
	bytesRead := 0
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n, err := r.Read(p[bytesRead:])
		bytesRead += n
		if err == io.EOF {
			return p[:bytesRead], nil
		}
		if err != nil {
			return p[:bytesRead], err
		}
		if bytesRead == len(p) {
			return p[:bytesRead], nil
		}
	}
}

// Transport sends requests using an http.Client.
type Transport struct {
	client *http.Client
}

// NewTransport returns a Transport that uses client, or a client with connector.DefaultTimeout if
// client is nil.
func NewTransport(client *http.Client) *Transport {
	if client == nil {
		client = &http.Client{Timeout: connector.DefaultTimeout}
	}
	return &Transport{client: client}
}

// Client returns the underlying http.Client.
func (t *Transport) Client() *http.Client {
	return t.client
}

func (t *Transport) Send(ctx context.Context, req *connector.Request) (*connector.Reply, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	request, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &protocol.TransportError{Endpoint: req.URL, Err: err}
	}
	for name, values := range req.Header {
		for _, v := range values {
			request.Header.Add(name, v)
		}
	}
	if request.Header.Get("Accept") == "" {
		request.Header.Set("Accept", "*/*")
	}

	result, err := t.client.Do(request)
	if err != nil {
		// The request may have been written before the connection failed.
		sent := !errors.Is(err, context.Canceled)
		return nil, &protocol.TransportError{Endpoint: req.URL, Err: err, Sent: sent}
	}
	defer result.Body.Close()

	buffer := make([]byte, connector.MaxResponseLength+1)
	buffer, err = ReadWithContext(ctx, result.Body, buffer)
	if err != nil {
		return nil, &protocol.TransportError{Endpoint: req.URL, Err: err, Sent: true}
	}
	if len(buffer) == connector.MaxResponseLength+1 {
		return nil, &protocol.TransportError{Endpoint: req.URL, Err: protocol.ErrResponseTooLarge, Sent: true}
	}

	// Bodies may contain session tokens and are never logged.
	log.Debug("Server returned %d: %s (%d bytes)", result.StatusCode, http.StatusText(result.StatusCode), len(buffer))
	return &connector.Reply{
		StatusCode: result.StatusCode,
		Header:     result.Header,
		Body:       buffer,
	}, nil
}
