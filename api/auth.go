/*
auth.go - Bearer token and service key middleware

PURPOSE:
  Authenticates API callers. Two credential kinds:
  - Bearer JWT (HS256): human callers. The token carries only the
    employee id (subject); role and suspension come from the profile
    row on every request, so a suspension takes effect immediately
    instead of at token expiry.
  - X-Service-Key: machine callers (cron triggering evaluation, the
    ordering system posting order facts).

AUTHORIZATION TIERS:
  RequireUser:             any signed-in, non-suspended profile
  RequireManager:          profile role must be manager
  RequireManagerOrService: manager bearer OR valid service key
  RequireService:          valid service key only

TOKEN ISSUANCE:
  GenerateToken exists for tests and local development. Production
  tokens are minted by the identity service; this server only verifies.

SEE ALSO:
  - server.go: Which routes sit behind which tier
  - handlers.go: CallerFrom for per-handler ownership checks
*/
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/reminder-engine/reminder"
)

// Claims are the JWT claims this server reads. Only the registered
// subject (employee id) matters; everything else is looked up fresh.
type Claims struct {
	jwt.RegisteredClaims
}

// Caller is the authenticated profile attached to the request context.
type Caller struct {
	Employee reminder.Employee
}

// IsManager reports whether the caller holds the manager role.
func (c Caller) IsManager() bool {
	return c.Employee.Role == reminder.RoleManager
}

type contextKey string

const callerKey contextKey = "caller"

// CallerFrom extracts the authenticated caller from a request context.
// Service-key requests carry no caller.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// Authenticator verifies credentials and loads caller profiles.
type Authenticator struct {
	Secret     []byte
	ServiceKey string
	Directory  reminder.Directory
	Log        *logrus.Logger
}

// NewAuthenticator creates an authenticator backed by the given directory.
func NewAuthenticator(secret []byte, serviceKey string, directory reminder.Directory, log *logrus.Logger) *Authenticator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Authenticator{
		Secret:     secret,
		ServiceKey: serviceKey,
		Directory:  directory,
		Log:        log,
	}
}

// GenerateToken mints an HS256 token for the given employee. Tests and
// local development only; see the package note on issuance.
func (a *Authenticator) GenerateToken(employeeID reminder.EmployeeID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(employeeID),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "reminder-engine",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parseSubject validates a raw token and returns its employee id.
func (a *Authenticator) parseSubject(raw string) (reminder.EmployeeID, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("token expired: %w", reminder.ErrUnauthorized)
		}
		return "", fmt.Errorf("%v: %w", err, reminder.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", reminder.ErrUnauthorized
	}
	return reminder.EmployeeID(claims.Subject), nil
}

// authenticate resolves the bearer token on a request to a Caller.
func (a *Authenticator) authenticate(r *http.Request) (Caller, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Caller{}, fmt.Errorf("missing authorization header: %w", reminder.ErrUnauthorized)
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return Caller{}, fmt.Errorf("malformed authorization header: %w", reminder.ErrUnauthorized)
	}

	employeeID, err := a.parseSubject(raw)
	if err != nil {
		return Caller{}, err
	}

	emp, err := a.Directory.GetEmployee(r.Context(), employeeID)
	if err != nil {
		return Caller{}, fmt.Errorf("failed to load profile: %w", err)
	}
	if emp == nil {
		return Caller{}, fmt.Errorf("unknown subject %s: %w", employeeID, reminder.ErrUnauthorized)
	}
	if emp.Suspended {
		return Caller{}, fmt.Errorf("profile %s suspended: %w", employeeID, reminder.ErrForbidden)
	}
	return Caller{Employee: *emp}, nil
}

// serviceKeyValid checks X-Service-Key in constant time. An empty
// configured key disables the service tier entirely.
func (a *Authenticator) serviceKeyValid(r *http.Request) bool {
	if a.ServiceKey == "" {
		return false
	}
	presented := r.Header.Get("X-Service-Key")
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.ServiceKey)) == 1
}

// RequireUser admits any valid, non-suspended profile.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

// RequireManager admits manager profiles only.
func (a *Authenticator) RequireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		if !caller.IsManager() {
			a.reject(w, r, fmt.Errorf("manager role required: %w", reminder.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

// RequireManagerOrService admits a manager bearer token or the service key.
func (a *Authenticator) RequireManagerOrService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.serviceKeyValid(r) {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := a.authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		if !caller.IsManager() {
			a.reject(w, r, fmt.Errorf("manager role required: %w", reminder.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

// RequireService admits the service key only.
func (a *Authenticator) RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.serviceKeyValid(r) {
			a.reject(w, r, fmt.Errorf("service key required: %w", reminder.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reminder.ErrForbidden):
		a.Log.WithError(err).WithField("path", r.URL.Path).Info("[Auth] Forbidden")
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, reminder.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized", err)
	default:
		a.Log.WithError(err).Error("[Auth] Failed to authenticate request")
		writeError(w, http.StatusInternalServerError, "Failed to authenticate request", err)
	}
}
