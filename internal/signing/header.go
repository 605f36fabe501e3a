package signing

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// AlgorithmEd25519 is the only signature algorithm on the network.
const AlgorithmEd25519 = "ed25519"

const signedHeaders = "(created) (expires) digest"

// Header is the parsed form of the network Authorization header.
type Header struct {
	SubscriberID string
	KeyID        string
	Algorithm    string
	Created      int64
	Expires      int64
	Headers      string
	Signature    string
}

// String renders the header exactly as peers expect it.
func (h Header) String() string {
	return fmt.Sprintf(
		`Signature keyId="%s|%s|%s",algorithm="%s",created="%d",expires="%d",headers="%s",signature="%s"`,
		h.SubscriberID, h.KeyID, h.Algorithm, h.Algorithm, h.Created, h.Expires, h.Headers, h.Signature,
	)
}

// Digest returns base64(BLAKE2b-512(body)).
func Digest(body []byte) string {
	sum := blake2b.Sum512(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SigningString builds the string covered by the signature.
func SigningString(created, expires int64, digest string) string {
	return fmt.Sprintf("(created): %d\n(expires): %d\ndigest: BLAKE-512=%s", created, expires, digest)
}

// ParseHeader parses an Authorization header value. Parameter order and
// whitespace around separators are not significant.
func ParseHeader(raw string) (Header, error) {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, "Signature ")
	if !ok {
		return Header{}, newAuthError(CodeMalformedHeader, "missing Signature scheme", nil)
	}
	params, err := splitParams(rest)
	if err != nil {
		return Header{}, newAuthError(CodeMalformedHeader, err.Error(), nil)
	}

	var h Header
	keyID, ok := params["keyId"]
	if !ok {
		return Header{}, newAuthError(CodeMalformedHeader, "missing keyId", nil)
	}
	parts := strings.Split(keyID, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Header{}, newAuthError(CodeMalformedHeader, "keyId must be subscriber|key|algorithm", nil)
	}
	h.SubscriberID, h.KeyID, h.Algorithm = parts[0], parts[1], parts[2]
	if alg, ok := params["algorithm"]; ok && alg != h.Algorithm {
		return Header{}, newAuthError(CodeUnsupportedAlgorithm, "algorithm does not match keyId", nil)
	}

	if h.Created, err = parseUnix(params, "created"); err != nil {
		return Header{}, err
	}
	if h.Expires, err = parseUnix(params, "expires"); err != nil {
		return Header{}, err
	}
	if h.Expires <= h.Created {
		return Header{}, newAuthError(CodeMalformedHeader, "expires must be after created", nil)
	}
	h.Headers = params["headers"]
	if h.Headers == "" {
		h.Headers = signedHeaders
	}
	h.Signature = params["signature"]
	if h.Signature == "" {
		return Header{}, newAuthError(CodeMalformedHeader, "missing signature", nil)
	}
	return h, nil
}

func parseUnix(params map[string]string, name string) (int64, error) {
	v, ok := params[name]
	if !ok {
		return 0, newAuthError(CodeMalformedHeader, "missing "+name, nil)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, newAuthError(CodeMalformedHeader, name+" is not a unix timestamp", err)
	}
	return n, nil
}

// splitParams splits k="v" pairs separated by commas, honouring quotes.
func splitParams(s string) (map[string]string, error) {
	params := make(map[string]string)
	for len(strings.TrimSpace(s)) > 0 {
		s = strings.TrimLeft(s, " ,")
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed parameter near %q", s)
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " ")
		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated value for %s", key)
			}
			value = s[1 : end+1]
			s = s[end+2:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		params[key] = value
	}
	return params, nil
}
