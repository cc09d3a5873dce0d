package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// PriceClaims is the payload of a signed price attestation.
type PriceClaims struct {
	jwt.RegisteredClaims
	Pair  string `json:"pair"`
	Price string `json:"price"`
}

// SignedVerifier accepts prices attested by an HS256 token signed with a
// shared publisher secret. The token must name the same pair and price.
type SignedVerifier struct {
	secret []byte
}

// NewSignedVerifier creates a verifier for the given publisher secret.
func NewSignedVerifier(secret string) *SignedVerifier {
	return &SignedVerifier{secret: []byte(secret)}
}

// Sign produces a proof for price on key, valid for ttl.
func (v *SignedVerifier) Sign(key model.PairKey, price decimal.Decimal, ttl time.Duration) ([]byte, error) {
	now := time.Now()
	claims := PriceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Pair:  key.String(),
		Price: price.String(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return nil, fmt.Errorf("sign price: %w", err)
	}
	return []byte(token), nil
}

// Verify implements Verifier.
func (v *SignedVerifier) Verify(key model.PairKey, price decimal.Decimal, proof []byte) error {
	if len(proof) == 0 {
		return errors.New("missing proof")
	}
	claims := &PriceClaims{}
	_, err := jwt.ParseWithClaims(string(proof), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return err
	}
	if claims.Pair != key.String() {
		return fmt.Errorf("proof is for %s, not %s", claims.Pair, key)
	}
	signed, err := decimal.NewFromString(claims.Price)
	if err != nil || !signed.Equal(price) {
		return fmt.Errorf("proof is for price %s, not %s", claims.Price, price)
	}
	return nil
}
