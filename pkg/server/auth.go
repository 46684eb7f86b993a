package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tnbcalc/tnbcalc/pkg/log"
)

// authMiddleware resolves the target siteID for every API request and, when
// an OIDC audience is configured, validates the bearer ID token against the
// admin email list. The external tariff webhook is exempt from the email
// check since its publisher authenticates at the infrastructure layer.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		isWebhook := r.URL.Path == "/api/webhook/tariff"

		// extract SiteID
		var siteID string
		if r.Method == http.MethodGet {
			siteID = r.URL.Query().Get("siteID")
		} else {
			// read body to find SiteID
			var bodyBytes []byte
			if r.Body != nil {
				// Limit body size to 1MB to prevent DoS
				r.Body = http.MaxBytesReader(w, r.Body, 1048576)
				var err error
				bodyBytes, err = io.ReadAll(r.Body)
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				// restore body for next handler
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}

			// try to unmarshal just the SiteID
			if len(bodyBytes) > 0 {
				var justSiteID struct {
					SiteID string `json:"siteID"`
				}
				if err := json.Unmarshal(bodyBytes, &justSiteID); err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				siteID = justSiteID.SiteID
			}
		}
		if siteID == "" && s.singleSite {
			siteID = defaultSiteID
		}
		if siteID == "" && r.URL.Path != "/api/sites" {
			writeJSONError(w, "missing siteID", http.StatusBadRequest)
			return
		}

		if !s.bypassAuth && !isWebhook {
			email, err := s.verifyBearer(ctx, r)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "authentication failed", slog.Any("error", err))
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if len(s.adminEmails) > 0 && !s.isAdmin(email) {
				log.Ctx(ctx).WarnContext(ctx, "unauthorized email", slog.String("email", email))
				writeJSONError(w, "unauthorized email", http.StatusForbidden)
				return
			}
			ctx = context.WithValue(ctx, emailContextKey, email)
		}

		ctx = context.WithValue(ctx, siteIDContextKey, siteID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyBearer validates the Authorization header's ID token and returns
// the email claim.
func (s *Server) verifyBearer(ctx context.Context, r *http.Request) (string, error) {
	if s.oidcVerify == nil {
		return "", errNoVerifier
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingAuth
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errBadAuthHeader
	}

	token, err := s.oidcVerify(ctx, parts[1])
	if err != nil {
		return "", err
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", err
	}
	return claims.Email, nil
}

func (s *Server) isAdmin(email string) bool {
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}

var (
	errNoVerifier    = &authError{"no token verifier configured"}
	errMissingAuth   = &authError{"missing authorization header"}
	errBadAuthHeader = &authError{"invalid authorization header"}
)

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }
