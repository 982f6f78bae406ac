package recurly

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// SignPayload signs form parameters for client-side embedding. The returned
// string is "signature|query" where query carries the parameters plus a nonce
// and timestamp, and signature is the hex HMAC-SHA1 of the query under the
// configured private key. The provider verifies the signature and rejects
// stale timestamps.
func (c *Client) SignPayload(params map[string]string) (string, error) {
	if c.privateKey == "" {
		return "", fmt.Errorf("recurly: private key is required for signing")
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("recurly: generating nonce: %w", err)
	}

	values := url.Values{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values.Set(k, params[k])
	}
	values.Set("nonce", hex.EncodeToString(nonce))
	values.Set("timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	query := values.Encode()
	mac := hmac.New(sha1.New, []byte(c.privateKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil)) + "|" + query, nil
}
