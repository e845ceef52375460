package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/teris-io/shortid"
)

// Anonymous sessions: a session token carries nothing but a generated
// opaque user ID. There is no account, no password, no identity beyond
// the token itself.

const (
	userIdClaim = "user-id"
	expClaim    = "exp"

	tokenCookieKey       = "session"
	defaultJwtExpiration = time.Hour * 24
)

func (s *RoomStateApp) createSession(w http.ResponseWriter, r *http.Request) {
	sid, err := shortid.Generate()
	if err != nil {
		s.log.Print("generate session id:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	userId := "u-" + sid

	token, err := s.createJwtForSession(userId, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusCreated, map[string]any{
		"success": true,
		"userId":  userId,
	})
}

func (s *RoomStateApp) deleteSession(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *RoomStateApp) createJwtForSession(userId string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *RoomStateApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func (s *RoomStateApp) extractUserIdFromToken(tokenString string) (string, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return "", fmt.Errorf("invalid user id claim")
	}

	return userId, nil
}

// resolveUserId prefers the session token's user ID over the one supplied
// in the request payload, so a valid session cannot be impersonated by
// writing someone else's ID into the body.
func (s *RoomStateApp) resolveUserId(r *http.Request, payloadUserId string) string {
	cookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return payloadUserId
	}

	userId, err := s.extractUserIdFromToken(cookie.Value)
	if err != nil {
		s.log.Printf("ignoring invalid session token: %v", err)
		return payloadUserId
	}

	return userId
}
