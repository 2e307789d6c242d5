package authentication

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
	"golang.org/x/crypto/blowfish"

	"github.com/openev/carwings/pkg/connector"
	"github.com/openev/carwings/pkg/protocol"
)

//go:generate mockgen -destination=../../mocks/cipher.go -package=mocks -mock_names=Cipher=Cipher github.com/openev/carwings/internal/authentication Cipher

// Cipher encrypts the login password.
type Cipher interface {
	Encrypt(ctx context.Context, password, key string) (string, error)
}

// Blowfish encrypts with Blowfish in ECB mode and PKCS#5 padding, and encodes the result as
// standard base64.
type Blowfish struct{}

func (Blowfish) Encrypt(_ context.Context, password, key string) (string, error) {
	block, err := blowfish.NewCipher([]byte(key))
	if err != nil {
		return "", fmt.Errorf("invalid password key: %w", err)
	}
	plaintext := pkcs5Pad([]byte(password), blowfish.BlockSize)
	ciphertext := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += blowfish.BlockSize {
		block.Encrypt(ciphertext[i:i+blowfish.BlockSize], plaintext[i:i+blowfish.BlockSize])
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func pkcs5Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// RemoteCipher posts the password and key to an encryption proxy, which replies with a JSON
// object carrying the result in its "encrypted" field.
type RemoteCipher struct {
	URL       string
	Transport connector.Transport
}

func (c *RemoteCipher) Encrypt(ctx context.Context, password, key string) (string, error) {
	form := url.Values{}
	form.Set("password", password)
	form.Set("key", key)
	reply, err := c.Transport.Send(ctx, &connector.Request{
		Method: http.MethodPost,
		URL:    c.URL,
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return "", err
	}
	rsp, err := protocol.Evaluate(protocol.HTTPStatus, c.URL, reply.StatusCode, reply.Header, reply.Body)
	if err != nil {
		return "", err
	}
	encrypted := gjson.GetBytes(rsp.Body, "encrypted").String()
	if encrypted == "" {
		return "", &protocol.InvalidResponseError{Endpoint: c.URL, Reason: "missing 'encrypted'", Body: rsp.Body}
	}
	return encrypted, nil
}

// NewCipher returns the Cipher selected by config. The transport is used by remote ciphers.
func NewCipher(config *protocol.Config, transport connector.Transport) (Cipher, error) {
	switch config.Cipher {
	case protocol.CipherBlowfish:
		return Blowfish{}, nil
	case protocol.CipherRemote:
		if config.CipherProxyURL == "" {
			return nil, fmt.Errorf("protocol generation '%s' requires an encryption proxy URL", config.Name)
		}
		return &RemoteCipher{URL: config.CipherProxyURL, Transport: transport}, nil
	}
	return nil, fmt.Errorf("unknown cipher mode %d", config.Cipher)
}
