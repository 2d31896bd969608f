// Package identity resolves the current user from Telegram Mini App init data.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/model"
)

// Identity is the user an init data payload vouches for
type Identity struct {
	ID          model.UserID
	DisplayName string
}

// Provider resolves the user behind a client-supplied credential
type Provider interface {
	CurrentUser(initData string) (Identity, error)
}

// TelegramVerifier validates the signed init data a Mini App receives from
// the Telegram client
type TelegramVerifier struct {
	botToken string
	maxAge   time.Duration
	clock    clock.Clock
}

// Ensure TelegramVerifier implements Provider
var _ Provider = (*TelegramVerifier)(nil)

// NewTelegramVerifier creates a verifier. A zero maxAge accepts init data of
// any age.
func NewTelegramVerifier(botToken string, maxAge time.Duration, clock clock.Clock) *TelegramVerifier {
	return &TelegramVerifier{
		botToken: botToken,
		maxAge:   maxAge,
		clock:    clock,
	}
}

// CurrentUser checks the init data signature and freshness and returns the
// embedded user. Every failure wraps model.ErrIdentityUnavailable.
// Freshness is judged on the injected clock, so the library's own expiry
// check is disabled.
func (v *TelegramVerifier) CurrentUser(initData string) (Identity, error) {
	if initData == "" {
		return Identity{}, fmt.Errorf("%w: empty init data", model.ErrIdentityUnavailable)
	}
	if err := initdata.Validate(initData, v.botToken, 0); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", model.ErrIdentityUnavailable, err)
	}

	data, err := initdata.Parse(initData)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", model.ErrIdentityUnavailable, err)
	}

	if v.maxAge > 0 && v.clock.Now().Sub(data.AuthDate()) > v.maxAge {
		return Identity{}, fmt.Errorf("%w: init data expired", model.ErrIdentityUnavailable)
	}

	if data.User.ID == 0 {
		return Identity{}, fmt.Errorf("%w: no user", model.ErrIdentityUnavailable)
	}

	return Identity{ID: model.UserID(data.User.ID), DisplayName: displayName(data.User)}, nil
}

// SignInitData adds auth_date and hash to values, producing init data the
// verifier for botToken accepts
func SignInitData(values url.Values, botToken string, authDate time.Time) string {
	signed := url.Values{}
	for k, vs := range values {
		if k == "hash" {
			continue
		}
		signed[k] = append([]string(nil), vs...)
	}
	signed.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	signed.Set("hash", signature(signed, botToken))
	return signed.Encode()
}

// signature computes the hex HMAC of the data-check string: every field but
// hash, sorted by key, as key=value lines
func signature(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func displayName(u initdata.User) string {
	if u.Username != "" {
		return u.Username
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return "player" + strconv.FormatInt(u.ID, 10)
}
