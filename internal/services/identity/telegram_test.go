package identity

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/mcoot/coinfall/internal/dependencies/mocks"
	"github.com/mcoot/coinfall/internal/model"
)

const botToken = "123456:TEST-TOKEN"

type TelegramSuite struct {
	suite.Suite
	clock    *mocks.MockClock
	verifier *TelegramVerifier
}

func TestTelegramSuite(t *testing.T) {
	suite.Run(t, new(TelegramSuite))
}

func (s *TelegramSuite) SetupTest() {
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.verifier = NewTelegramVerifier(botToken, time.Hour, s.clock)
}

func (s *TelegramSuite) signedUser(userJSON string) string {
	values := url.Values{}
	values.Set("user", userJSON)
	values.Set("query_id", "AAH")
	return SignInitData(values, botToken, s.clock.Now())
}

func (s *TelegramSuite) TestValidInitDataWithUsername() {
	id, err := s.verifier.CurrentUser(s.signedUser(`{"id":42,"first_name":"Alice","username":"alice"}`))
	s.Require().NoError(err)

	s.Equal(model.UserID(42), id.ID)
	s.Equal("alice", id.DisplayName)
}

func (s *TelegramSuite) TestDisplayNameFallsBackToFullName() {
	id, err := s.verifier.CurrentUser(s.signedUser(`{"id":42,"first_name":"Alice","last_name":"Liddell"}`))
	s.Require().NoError(err)
	s.Equal("Alice Liddell", id.DisplayName)
}

func (s *TelegramSuite) TestDisplayNameFallsBackToID() {
	id, err := s.verifier.CurrentUser(s.signedUser(`{"id":42}`))
	s.Require().NoError(err)
	s.Equal("player42", id.DisplayName)
}

func (s *TelegramSuite) TestTamperedDataRejected() {
	initData := s.signedUser(`{"id":42,"username":"alice"}`)
	values, _ := url.ParseQuery(initData)
	values.Set("user", `{"id":43,"username":"mallory"}`)

	_, err := s.verifier.CurrentUser(values.Encode())
	s.ErrorIs(err, model.ErrIdentityUnavailable)
}

func (s *TelegramSuite) TestSignedDataPassesLibraryValidation() {
	s.NoError(initdata.Validate(s.signedUser(`{"id":42,"username":"alice"}`), botToken, 0))
}

func (s *TelegramSuite) TestSignatureErrorsAreReported() {
	initData := s.signedUser(`{"id":42,"username":"alice"}`)
	values, _ := url.ParseQuery(initData)
	values.Set("user", `{"id":43,"username":"mallory"}`)

	_, err := s.verifier.CurrentUser(values.Encode())
	s.ErrorIs(err, model.ErrIdentityUnavailable)
	s.ErrorIs(err, initdata.ErrSignInvalid)

	values.Del("hash")
	_, err = s.verifier.CurrentUser(values.Encode())
	s.ErrorIs(err, initdata.ErrSignMissing)
}

func (s *TelegramSuite) TestWrongBotTokenRejected() {
	values := url.Values{}
	values.Set("user", `{"id":42}`)

	_, err := s.verifier.CurrentUser(SignInitData(values, "other-token", s.clock.Now()))
	s.ErrorIs(err, model.ErrIdentityUnavailable)
}

func (s *TelegramSuite) TestExpiredInitDataRejected() {
	initData := s.signedUser(`{"id":42}`)
	s.clock.Advance(time.Hour + time.Second)

	_, err := s.verifier.CurrentUser(initData)
	s.ErrorIs(err, model.ErrIdentityUnavailable)
}

func (s *TelegramSuite) TestZeroMaxAgeAcceptsOldData() {
	verifier := NewTelegramVerifier(botToken, 0, s.clock)
	initData := s.signedUser(`{"id":42}`)
	s.clock.Advance(30 * 24 * time.Hour)

	_, err := verifier.CurrentUser(initData)
	s.NoError(err)
}

func (s *TelegramSuite) TestMissingFieldsRejected() {
	cases := map[string]string{
		"empty":     "",
		"no hash":   "user=%7B%22id%22%3A42%7D",
		"malformed": "%zz",
	}
	for name, initData := range cases {
		_, err := s.verifier.CurrentUser(initData)
		s.ErrorIs(err, model.ErrIdentityUnavailable, name)
	}

	noUser := SignInitData(url.Values{"query_id": {"AAH"}}, botToken, s.clock.Now())
	_, err := s.verifier.CurrentUser(noUser)
	s.ErrorIs(err, model.ErrIdentityUnavailable)

	zeroID := s.signedUser(`{"first_name":"Ghost"}`)
	_, err = s.verifier.CurrentUser(zeroID)
	s.ErrorIs(err, model.ErrIdentityUnavailable)
}
