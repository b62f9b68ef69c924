package flows

import (
	"fmt"

	"github.com/pantrychef/authcore/jwt"
	"github.com/pantrychef/authcore/session"
)

// issuedPair is one freshly minted access/refresh pair and the claims stamped
// into each token.
type issuedPair struct {
	AccessToken   string
	AccessClaims  jwt.Claims
	RefreshToken  string
	RefreshClaims jwt.Claims
}

// record builds the ACTIVE record backing p. parentTokenID is empty for the
// root of a chain.
func (p issuedPair) record(parentTokenID string, client session.ClientContext) session.Record {
	return session.Record{
		TokenID:         p.RefreshClaims.TokenID,
		ChainID:         p.RefreshClaims.ChainID,
		SubjectID:       p.RefreshClaims.SubjectID,
		ParentTokenID:   parentTokenID,
		IssuedAt:        p.RefreshClaims.IssuedAt.Time,
		ExpiresAt:       p.RefreshClaims.ExpiresAt.Time,
		State:           session.StateActive,
		AccessTokenID:   p.AccessClaims.TokenID,
		AccessExpiresAt: p.AccessClaims.ExpiresAt.Time,
		Client:          client,
	}
}

// issuePair mints an access and a refresh token for one chain. Each token gets
// its own token id; the refresh token id becomes the record id.
func issuePair(subjectID, chainID string, deps IssueDeps) (issuedPair, error) {
	refreshID, err := deps.NewTokenID()
	if err != nil {
		return issuedPair{}, fmt.Errorf("refresh token id: %w", err)
	}
	accessID, err := deps.NewTokenID()
	if err != nil {
		return issuedPair{}, fmt.Errorf("access token id: %w", err)
	}

	var p issuedPair
	p.AccessToken, p.AccessClaims, err = deps.Tokens.Encode(jwt.Claims{
		SubjectID: subjectID,
		TokenID:   accessID,
		ChainID:   chainID,
	}, jwt.TypeAccess, deps.AccessTTL)
	if err != nil {
		return issuedPair{}, err
	}
	p.RefreshToken, p.RefreshClaims, err = deps.Tokens.Encode(jwt.Claims{
		SubjectID: subjectID,
		TokenID:   refreshID,
		ChainID:   chainID,
	}, jwt.TypeRefresh, deps.RefreshTTL)
	if err != nil {
		return issuedPair{}, err
	}
	return p, nil
}
