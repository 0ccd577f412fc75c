package files

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid download token")

// TokenIssuer signs short-lived download links so certificate PDFs can be
// fetched by a plain GET (browser navigation, no Authorization header)
// without making the files public.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

const tokenIssuer = "memberportal"

func (t *TokenIssuer) IssueDownloadToken(userID, certificateID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"iss":  tokenIssuer,
		"sub":  userID,
		"typ":  "cert_download",
		"cert": certificateID,
		"iat":  now.Unix(),
		"exp":  now.Add(t.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// VerifyDownloadToken returns the user and certificate ids the token was
// issued for.
func (t *TokenIssuer) VerifyDownloadToken(tokenStr string) (userID, certificateID string, err error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if typ, _ := claims["typ"].(string); typ != "cert_download" {
		return "", "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	cert, _ := claims["cert"].(string)
	if sub == "" || cert == "" {
		return "", "", ErrInvalidToken
	}
	return sub, cert, nil
}
