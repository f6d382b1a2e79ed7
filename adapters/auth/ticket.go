// Package auth signs and verifies the authentication tickets stored in
// cookies by the ticket authentication policy.
//
// Tickets are JWTs signed with HS256. The signing key is derived from the
// configured secret with HKDF so short secrets still yield a full-size key.
package auth

import (
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Ticket is the payload of an authentication ticket.
type Ticket struct {
	UserID   string   `json:"uid"`
	Tokens   []string `json:"tokens,omitempty"`
	UserData string   `json:"udata,omitempty"`
	IP       string   `json:"ip,omitempty"`
	jwt.RegisteredClaims
}

// Issued returns the time the ticket was issued.
func (t *Ticket) Issued() time.Time {
	if t.IssuedAt == nil {
		return time.Time{}
	}
	return t.IssuedAt.Time
}

// TicketService issues and validates tickets.
// Thread-safe and suitable for concurrent use.
type TicketService struct {
	key     []byte
	issuer  string
	timeout time.Duration
	now     func() time.Time
}

// NewTicketService creates a ticket service keyed by secret. A zero timeout
// issues tickets that never expire.
func NewTicketService(secret string, timeout time.Duration) (*TicketService, error) {
	if secret == "" {
		return nil, errors.New("ticket secret is required")
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &TicketService{
		key:     key,
		issuer:  "auth_tkt",
		timeout: timeout,
		now:     time.Now,
	}, nil
}

// WithClock replaces the time source, for tests.
func (s *TicketService) WithClock(now func() time.Time) *TicketService {
	s.now = now
	return s
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("auth_tkt signing key"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Issue creates a signed ticket for userID.
func (s *TicketService) Issue(userID string, tokens []string, ip string) (string, error) {
	now := s.now().UTC()

	claims := Ticket{
		UserID: userID,
		Tokens: tokens,
		IP:     ip,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.timeout > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.timeout))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Validate verifies the signature and expiry of a ticket.
func (s *TicketService) Validate(raw string) (*Ticket, error) {
	token, err := jwt.ParseWithClaims(raw, &Ticket{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))

	if err != nil {
		return nil, err
	}

	ticket, ok := token.Claims.(*Ticket)
	if !ok || !token.Valid {
		return nil, errors.New("invalid ticket")
	}

	return ticket, nil
}
