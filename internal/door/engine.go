package door

import (
	"context"
	"crypto/subtle"
	"errors"
)

// Authenticator evaluates PIN and RFID credentials against the store.
// The two paths are independent: neither consults the other's state, and
// neither logs, counts or retries. Service wraps both with that bookkeeping.
type Authenticator struct {
	repo Repository
}

// NewAuthenticator creates an authenticator reading from repo.
func NewAuthenticator(repo Repository) *Authenticator {
	return &Authenticator{repo: repo}
}

// CheckPIN compares the digest of pin with the door's stored digest.
// pin must already be validated; a malformed PIN is never digested.
func (a *Authenticator) CheckPIN(ctx context.Context, pin string) (AuthResult, error) {
	if err := ValidatePIN(pin); err != nil {
		return AuthResult{}, err
	}
	d, err := a.repo.GetDoor(ctx)
	if err != nil {
		return AuthResult{}, err
	}
	if subtle.ConstantTimeCompare([]byte(Digest(pin)), []byte(d.PINHash)) == 1 {
		return AuthResult{Granted: true, Method: MethodPIN}, nil
	}
	return AuthResult{Method: MethodInvalidPIN, Reason: ReasonWrongPIN}, nil
}

// CheckCard looks up a UID digest. An ACTIVE card grants immediately with
// no PIN requirement.
func (a *Authenticator) CheckCard(ctx context.Context, uidHash string) (AuthResult, *Card, error) {
	if uidHash == "" {
		return AuthResult{}, nil, ErrMissingField
	}
	card, err := a.repo.CardByHash(ctx, uidHash)
	if errors.Is(err, ErrCardNotFound) {
		return AuthResult{Method: MethodInvalidRFID, Reason: ReasonUnknownCard}, nil, nil
	}
	if err != nil {
		return AuthResult{}, nil, err
	}

	res := AuthResult{UserID: card.UserID, Username: card.Username}
	if card.Status != CardActive {
		res.Method = MethodCardRevoked
		res.Reason = ReasonCardRevoked
		return res, card, nil
	}
	res.Granted = true
	res.Method = MethodRFID
	return res, card, nil
}
