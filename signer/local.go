package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSignature is returned for expired or tampered local URLs.
var ErrInvalidSignature = errors.New("invalid signature")

const objectsPath = "/objects/"

// LocalPresigner signs URLs for the development object store with an HMAC
// over the object key and the expiry.
type LocalPresigner struct {
	baseURL string
	secret  []byte
	expiry  time.Duration
	now     func() time.Time
}

// NewLocalPresigner ...
func NewLocalPresigner(baseURL string, secret []byte, expiry time.Duration) *LocalPresigner {
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}
	return &LocalPresigner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		expiry:  expiry,
		now:     time.Now,
	}
}

// PresignPut ...
func (p *LocalPresigner) PresignPut(_ context.Context, filename string) (string, error) {
	key, err := ValidateFilename(filename)
	if err != nil {
		return "", err
	}
	exp := p.now().Add(p.expiry).Unix()

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", p.signature(key, exp))
	return fmt.Sprintf("%s%s%s?%s", p.baseURL, objectsPath, url.PathEscape(key), q.Encode()), nil
}

// Verify checks the exp and sig query values of a request for key.
func (p *LocalPresigner) Verify(key string, query url.Values) error {
	exp, err := strconv.ParseInt(query.Get("exp"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad expiry", ErrInvalidSignature)
	}
	if p.now().Unix() > exp {
		return fmt.Errorf("%w: expired", ErrInvalidSignature)
	}
	want := p.signature(key, exp)
	if !hmac.Equal([]byte(want), []byte(query.Get("sig"))) {
		return fmt.Errorf("%w: mismatch", ErrInvalidSignature)
	}
	return nil
}

func (p *LocalPresigner) signature(key string, exp int64) string {
	mac := hmac.New(sha256.New, p.secret)
	_, _ = fmt.Fprintf(mac, "%s\n%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
