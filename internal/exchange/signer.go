package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Scheme selects how a request is canonicalized before it is signed. The two
// schemes are incompatible; a deployment pins one.
type Scheme string

const (
	// SchemeHeader signs timestamp + METHOD + path + body and carries the
	// timestamp and signature in headers.
	SchemeHeader Scheme = "header"
	// SchemeQuery signs the sorted key=value parameter string and carries the
	// timestamp and signature as parameters.
	SchemeQuery Scheme = "query"
)

func ParseScheme(raw string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(raw))) {
	case SchemeHeader:
		return SchemeHeader, nil
	case SchemeQuery:
		return SchemeQuery, nil
	default:
		return "", fmt.Errorf("unknown signing scheme %q", raw)
	}
}

// SignedRequest is built for exactly one call and discarded afterwards.
type SignedRequest struct {
	Timestamp string
	Method    string
	Path      string
	// Params are signed under SchemeQuery. Under SchemeHeader they are sent
	// on the query string but are not part of the signed message.
	Params    map[string]string
	Body      string
	Signature string
}

type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("api secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the hex HMAC-SHA256 of the header-scheme canonical message.
func Sign(secret, timestamp, method, path, body string) string {
	return hmacHex([]byte(secret), CanonicalMessage(timestamp, method, path, body))
}

// SignParams returns the hex HMAC-SHA256 of the sorted parameter string.
func SignParams(secret string, params map[string]string) string {
	return hmacHex([]byte(secret), CanonicalQuery(params))
}

func CanonicalMessage(timestamp, method, path, body string) string {
	return timestamp + strings.ToUpper(method) + path + body
}

func CanonicalQuery(params map[string]string) string {
	keys := sortedKeys(params)
	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(params[key])
	}
	return sb.String()
}

// SignRequest fills req.Signature for the given scheme. Under SchemeQuery the
// timestamp is added to the signed parameters first.
func (s *Signer) SignRequest(scheme Scheme, req *SignedRequest) error {
	if req == nil {
		return errors.New("request is required")
	}
	if req.Timestamp == "" {
		return errors.New("request timestamp is required")
	}
	switch scheme {
	case SchemeHeader:
		req.Signature = hmacHex(s.secret, CanonicalMessage(req.Timestamp, req.Method, req.Path, req.Body))
	case SchemeQuery:
		if req.Body != "" {
			return errors.New("query scheme does not sign request bodies")
		}
		if req.Params == nil {
			req.Params = make(map[string]string)
		}
		if _, ok := req.Params["signature"]; ok {
			return errors.New("request is already signed")
		}
		req.Params["timestamp"] = req.Timestamp
		req.Signature = hmacHex(s.secret, CanonicalQuery(req.Params))
	default:
		return fmt.Errorf("unknown signing scheme %q", scheme)
	}
	return nil
}

func hmacHex(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func sortedKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
