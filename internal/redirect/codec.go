// Package redirect builds and reads self-describing click-tracking links.
//
// A token is a proxy URL of the form
//
//	<base>/redirect/<suffix>?data=<base64url(json payload)>
//
// Every piece of state needed to resolve the click lives in data; the suffix
// only keeps links distinct.
package redirect

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// PathPrefix is the route prefix the resolver is mounted on.
const PathPrefix = "/redirect/"

var ErrEmptyDestination = errors.New("redirect: destination url is empty")

// Payload is what a token carries.
type Payload struct {
	OriginalURL string            `json:"originalUrl"`
	Params      map[string]string `json:"params"`
	RedirectURL string            `json:"redirectUrl"`
	UserID      string            `json:"userId,omitempty"`
}

type Codec struct {
	baseURL string
	now     func() time.Time
}

// NewCodec returns a codec that issues tokens under baseURL, e.g.
// "https://shop.example.com". An empty base yields host-relative tokens.
func NewCodec(baseURL string) *Codec {
	return &Codec{baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Encode wraps destination and params into a proxy URL. userID is optional.
func (c *Codec) Encode(destination string, params map[string]string, userID string) (string, error) {
	if destination == "" {
		return "", ErrEmptyDestination
	}
	if params == nil {
		params = map[string]string{}
	}

	p := Payload{
		OriginalURL: destination,
		Params:      params,
		RedirectURL: BuildRedirectURL(destination, params),
		UserID:      userID,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	q := url.Values{"data": {base64.RawURLEncoding.EncodeToString(raw)}}
	return c.baseURL + PathPrefix + c.suffix() + "?" + q.Encode(), nil
}

// Decode reads a proxy URL or path back into its payload. Missing or
// malformed data reports ok=false.
func (c *Codec) Decode(proxyPath string) (Payload, bool) {
	u, err := url.Parse(proxyPath)
	if err != nil {
		return Payload{}, false
	}
	data := u.Query().Get("data")
	if data == "" {
		return Payload{}, false
	}
	return DecodeData(data)
}

// DecodeData decodes the value of a token's data parameter.
func DecodeData(data string) (Payload, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, false
	}
	if p.OriginalURL == "" || p.RedirectURL == "" {
		return Payload{}, false
	}
	if p.Params == nil {
		p.Params = map[string]string{}
	}
	return p, true
}

// BuildRedirectURL appends params to destination as a query string, keys in
// sorted order, ahead of any #fragment. With no params the destination is
// returned unchanged.
func BuildRedirectURL(destination string, params map[string]string) string {
	if len(params) == 0 {
		return destination
	}
	q := make(url.Values, len(params))
	for k, v := range params {
		q.Set(k, v)
	}

	base, fragment, hasFragment := strings.Cut(destination, "#")
	sep := "?"
	switch {
	case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
		sep = ""
	case strings.Contains(base, "?"):
		sep = "&"
	}
	out := base + sep + q.Encode()
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

func (c *Codec) suffix() string {
	return strconv.FormatInt(c.now().UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}
