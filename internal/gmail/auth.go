package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"newsletter-briefing/internal/handler"
	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/router"
)

// Scopes covers reading updates, sending the briefing and changing labels.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
}

var ErrTokenNotFound = errors.New("oauth token not found")

// LoadOAuthConfig reads the client secrets downloaded from the Google Cloud console.
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", credentialsPath, err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return oauthConfig, nil
}

func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s; run setup first", ErrTokenNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", path, err)
	}
	return tok, nil
}

func SaveToken(path string, token *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to save oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// savingTokenSource writes refreshed tokens back to disk so the next run
// starts from a valid access token.
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	mu     sync.Mutex
	last   string
	logger *logger.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("Failed to persist refreshed token:", err)
		} else {
			s.logger.Debug("Refreshed OAuth token saved to", s.path)
		}
	}
	return tok, nil
}

// NewHTTPClient returns an authorized client from the cached token.
func NewHTTPClient(ctx context.Context, credentialsPath, tokenPath string, logger *logger.Logger) (*http.Client, error) {
	oauthConfig, err := LoadOAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}
	tok, err := TokenFromFile(tokenPath)
	if err != nil {
		return nil, err
	}

	src := &savingTokenSource{
		base:   oauthConfig.TokenSource(ctx, tok),
		path:   tokenPath,
		last:   tok.AccessToken,
		logger: logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// Authorize runs the installed-app flow: it serves the redirect on listenAddr,
// shows the consent URL through prompt and exchanges the returned code.
func Authorize(ctx context.Context, oauthConfig *oauth2.Config, listenAddr string, prompt func(authURL string), logger *logger.Logger) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}

	state := uuid.New().String()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Listener = ln
	e.Use(echomw.Recover())

	authHandler := handler.NewAuthHandler(e.Logger)
	router.SetupRoutes(e, authHandler, state)

	serveErr := make(chan error, 1)
	go func() {
		if err := e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	redirect := *oauthConfig
	redirect.RedirectURL = fmt.Sprintf("http://%s%s", ln.Addr().String(), router.CallbackPath)
	authURL := redirect.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	logger.Info("Waiting for authorization on", redirect.RedirectURL)
	prompt(authURL)

	var code string
	select {
	case res := <-authHandler.Results():
		if res.Err != nil {
			return nil, res.Err
		}
		code = res.Code
	case err := <-serveErr:
		return nil, fmt.Errorf("callback server failed: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := redirect.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return tok, nil
}
