// Copyright 2025 The springbokd Authors
// This file is part of the springbokd library.
//
// The springbokd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The springbokd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the springbokd library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// CookieFile is the name of the authentication cookie in the data dir.
	CookieFile = ".cookie"
	cookieUser = "__cookie__"

	jwtExpiryTimeout = 60 * time.Second
	authFailDelay    = 250 * time.Millisecond
)

// GenerateAuthCookie writes a fresh random credential to path and returns it.
func GenerateAuthCookie(path string) (user, password string, err error) {
	var secret [32]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", "", err
	}
	password = hex.EncodeToString(secret[:])
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cookieUser+":"+password), 0o600); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", "", err
	}
	return cookieUser, password, nil
}

// DeleteAuthCookie removes the cookie file. A missing file is not an error.
func DeleteAuthCookie(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type authHandler struct {
	user     []byte
	password []byte
	keyFunc  func(token *jwt.Token) (interface{}, error)
	openREST bool
	next     http.Handler
}

// newAuthHandler requires basic authentication, or a bearer token signed with
// jwtSecret when one is configured. With no credentials at all every request
// passes. REST requests are not authenticated when openREST is set.
func newAuthHandler(user, password string, jwtSecret []byte, next http.Handler, openREST bool) http.Handler {
	h := &authHandler{
		user:     []byte(user),
		password: []byte(password),
		openREST: openREST,
		next:     next,
	}
	if len(jwtSecret) > 0 {
		h.keyFunc = func(token *jwt.Token) (interface{}, error) {
			return jwtSecret, nil
		}
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *authHandler) ServeHTTP(out http.ResponseWriter, r *http.Request) {
	if h.openREST && strings.HasPrefix(r.URL.Path, "/rest/") {
		h.next.ServeHTTP(out, r)
		return
	}
	if len(h.user) == 0 && len(h.password) == 0 && h.keyFunc == nil {
		h.next.ServeHTTP(out, r)
		return
	}
	auth := r.Header.Get("Authorization")
	var err error
	switch {
	case strings.HasPrefix(auth, "Bearer ") && h.keyFunc != nil:
		err = h.checkToken(strings.TrimPrefix(auth, "Bearer "))
	case strings.HasPrefix(auth, "Basic "):
		err = h.checkBasic(r)
	default:
		err = errors.New("missing credentials")
	}
	if err != nil {
		// Slow down brute force attempts.
		time.Sleep(authFailDelay)
		out.Header().Set("WWW-Authenticate", `Basic realm="jsonrpc"`)
		http.Error(out, err.Error(), http.StatusUnauthorized)
		return
	}
	h.next.ServeHTTP(out, r)
}

func (h *authHandler) checkBasic(r *http.Request) error {
	user, password, ok := r.BasicAuth()
	if !ok {
		return errors.New("malformed credentials")
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), h.user) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), h.password) == 1
	if !userOK || !passOK {
		return errors.New("incorrect rpcuser or rpcpassword")
	}
	return nil
}

func (h *authHandler) checkToken(strToken string) error {
	var claims jwt.RegisteredClaims
	// Only HS256 is allowed. The claim check is disabled because it requires
	// 'iat' to be no later than 'now', while some drift is tolerated below.
	token, err := jwt.ParseWithClaims(strToken, &claims, h.keyFunc,
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation())

	switch {
	case err != nil:
		return err
	case !token.Valid:
		return errors.New("invalid token")
	case !claims.VerifyExpiresAt(time.Now(), false): // optional
		return errors.New("token is expired")
	case claims.IssuedAt == nil:
		return errors.New("missing issued-at")
	case time.Since(claims.IssuedAt.Time) > jwtExpiryTimeout:
		return errors.New("stale token")
	case time.Until(claims.IssuedAt.Time) > jwtExpiryTimeout:
		return errors.New("future token")
	}
	return nil
}
