// Package auth issues and checks the bearer tokens carried by check-in stations.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrWrongKind    = errors.New("auth: wrong token kind")
)

// TokenPair is returned when a station registers or refreshes.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Claims is the JWT payload. Subject is the station id.
type Claims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Issuer signs HS256 station tokens.
type Issuer struct {
	key        []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer signs with key and stamps issuer on every token.
func NewIssuer(key, issuer string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{key: []byte(key), issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// Issue signs an access and a refresh token for station.
func (i *Issuer) Issue(station string) (TokenPair, error) {
	now := i.now()
	pair := TokenPair{AccessExp: now.Add(i.accessTTL), RefreshExp: now.Add(i.refreshTTL)}

	var err error
	if pair.AccessToken, err = i.sign(station, KindAccess, now, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = i.sign(station, KindRefresh, now, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func (i *Issuer) sign(station, kind string, now, exp time.Time) (string, error) {
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   station,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
}

// Parse validates tokenStr and requires it to be of the given kind.
func (i *Issuer) Parse(tokenStr, kind string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return Claims{}, errors.Join(ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	if claims.Kind != kind {
		return Claims{}, ErrWrongKind
	}
	return *claims, nil
}
