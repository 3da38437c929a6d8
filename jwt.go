package client

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// the session token is minted and verified by the platform. the client
// only needs the claims to know who the session user is, so the parse is
// unverified. token refresh is the auth layer's responsibility.

type ByJwt struct {
	UserId   string
	Username string
	Email    string
}

func ParseByJwtUnverified(byJwtStr string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userId, ok := claims["userId"].(string); ok {
		byJwt.UserId = userId
	} else if userId, ok := claims["sub"].(string); ok {
		byJwt.UserId = userId
	}
	if username, ok := claims["username"].(string); ok {
		byJwt.Username = username
	}
	if email, ok := claims["email"].(string); ok {
		byJwt.Email = email
	}

	return byJwt, nil
}
