package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
)

// FirebaseAuthClient turns Firebase ID tokens into user ids for the chat API.
type FirebaseAuthClient struct {
	client       *auth.Client
	checkRevoked bool
}

func NewFirebaseAuthClient(client *auth.Client, checkRevoked bool) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client:       client,
		checkRevoked: checkRevoked,
	}
}

// VerifyToken checks a Firebase ID token and returns its uid. With
// revocation checks on, tokens of signed-out or disabled users fail too.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	var (
		result *auth.Token
		err    error
	)
	if f.checkRevoked {
		result, err = f.client.VerifyIDTokenAndCheckRevoked(ctx, token)
	} else {
		result, err = f.client.VerifyIDToken(ctx, token)
	}
	if err != nil {
		switch {
		case auth.IsIDTokenExpired(err):
			return "", errors.Unauthorized("Token has expired", err)
		case auth.IsIDTokenRevoked(err), auth.IsUserDisabled(err):
			return "", errors.Unauthorized("Token has been revoked", err)
		}
		logger.Debug("VerifyToken: Rejected ID token: %v", err)
		return "", errors.Unauthorized("Invalid or expired token", err)
	}

	return result.UID, nil
}
