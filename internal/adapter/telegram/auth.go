package telegram

import (
	"context"
	"fmt"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"go.uber.org/zap"
)

// termAuth implements auth.UserAuthenticator using the provided AuthInput,
// logging through the owning session's logger at each decision point the
// way session.go does for every other gotd callback.
type termAuth struct {
	input AuthInput
	log   *zap.Logger
}

func (t termAuth) Phone(_ context.Context) (string, error) {
	return t.input.GetPhoneNumber()
}

func (t termAuth) Password(_ context.Context) (string, error) {
	return t.input.GetPassword()
}

func (t termAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	t.log.Info("accepting terms of service")
	return nil // Accept implicitly
}

func (t termAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return t.input.GetCode()
}

func (t termAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	t.log.Warn("sign-up requested but unsupported; the account must already exist")
	return auth.UserInfo{}, fmt.Errorf("sign-up is not supported: authenticate with an existing account")
}
