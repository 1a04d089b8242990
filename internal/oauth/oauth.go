// Package oauth turns a user's stored Google credentials into an
// authenticated Calendar client, and runs the consent flow that stores them.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/auth"
	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/store"
)

const CalendarScope = "https://www.googleapis.com/auth/calendar"

// ErrNoCredentials means the user never linked Google Calendar and has to
// go through the consent flow.
var ErrNoCredentials = apperr.New(apperr.Reauth, "google calendar not linked, authorize at /calendar/google")

type CredentialStore interface {
	UpsertCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, userID string) (*model.Credential, error)
}

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateSecret  string
	// Timeout bounds each call to Google's token endpoint, including the
	// refresh the transport does on its own. Defaults to 5s.
	Timeout      time.Duration

	// overrides for tests
	Endpoint    *oauth2.Endpoint
	APIEndpoint string
}

type Manager struct {
	cfg         *oauth2.Config
	creds       CredentialStore
	stateSecret string
	apiEndpoint string
	tokenClient *http.Client
}

func NewManager(creds CredentialStore, o Options) *Manager {
	ep := google.Endpoint
	if o.Endpoint != nil {
		ep = *o.Endpoint
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return &Manager{
		cfg: &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			RedirectURL:  o.RedirectURL,
			Scopes:       []string{CalendarScope},
			Endpoint:     ep,
		},
		creds:       creds,
		stateSecret: o.StateSecret,
		apiEndpoint: o.APIEndpoint,
		tokenClient: &http.Client{Timeout: o.Timeout},
	}
}

func (m *Manager) configured() bool {
	return m.cfg.ClientID != "" && m.cfg.ClientSecret != ""
}

// AuthURL is the consent page for userID. Offline access plus a forced
// consent prompt makes Google hand out a refresh token every time.
func (m *Manager) AuthURL(userID string) (string, error) {
	if !m.configured() {
		return "", apperr.New(apperr.Internal, "google oauth client not configured")
	}
	state, err := auth.MakeState(userID, m.stateSecret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return m.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// HandleCallback verifies state, swaps the code for tokens and stores them.
// Returns the user the bundle belongs to.
func (m *Manager) HandleCallback(ctx context.Context, state, code string) (string, error) {
	if code == "" {
		return "", apperr.New(apperr.Validation, "missing authorization code")
	}
	userID, err := auth.ParseState(state, m.stateSecret)
	if err != nil {
		return "", apperr.Wrap(apperr.Authentication, "invalid or expired oauth state", err)
	}

	tok, err := m.cfg.Exchange(m.tokenContext(ctx), code)
	if err != nil {
		return "", apperr.Wrap(apperr.Upstream, "google token exchange failed", err)
	}

	if err := m.creds.UpsertCredential(ctx, FromToken(userID, tok)); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return userID, nil
}

// Session builds a Calendar client for userID from the stored bundle. The
// oauth2 transport refreshes an expired access token on its own; the
// refreshed token is not written back, so the stored bundle never changes here.
func (m *Manager) Session(ctx context.Context, userID string) (*gcal.Service, error) {
	c, err := m.creds.GetCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	client := m.cfg.Client(m.tokenContext(ctx), ToToken(c))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if m.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(m.apiEndpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return svc, nil
}

// tokenContext makes x/oauth2 use the bounded client for token requests.
// API calls only borrow its transport, so their deadline stays with the caller.
func (m *Manager) tokenContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.tokenClient)
}

// ToToken maps a stored bundle onto the oauth2 token shape.
func ToToken(c *model.Credential) *oauth2.Token {
	t := &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
	}
	if c.ExpiryDate > 0 {
		t.Expiry = time.UnixMilli(c.ExpiryDate)
	}
	if c.Scope != "" {
		t = t.WithExtra(map[string]any{"scope": c.Scope})
	}
	return t
}

func FromToken(userID string, t *oauth2.Token) *model.Credential {
	c := &model.Credential{
		UserID:       userID,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if !t.Expiry.IsZero() {
		c.ExpiryDate = t.Expiry.UnixMilli()
	}
	if s, ok := t.Extra("scope").(string); ok {
		c.Scope = s
	}
	return c
}
