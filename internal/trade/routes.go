package trade

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/settlement-engine/internal/auth"
)

// Routes returns the /api/v1 router. Every route except the WebSocket
// requires a bearer token; the WebSocket requires one only when it is
// filtered to an account. A nil hub leaves /ws unmounted.
func (s *Service) Routes(tokens *auth.Service, hub *WSHub) chi.Router {
	r := chi.NewRouter()

	if hub != nil {
		r.With(streamAccess(tokens)).Get("/ws", hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(tokens.Authenticate)

		// Pair queries are open to every authenticated caller.
		r.Get("/pairs", s.ListPairs)
		r.Get("/pairs/{pair}", s.GetPair)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleTrader))
			r.Post("/orders", s.PlaceOrder)
			r.Delete("/orders/{pair}/{orderID}", s.CancelOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleExecutor))
			r.Post("/orders/{pair}/{orderID}/execute", s.ExecuteOrder)
			r.Post("/positions/{pair}/{account}/{side}/exit", s.ExecuteExit)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Post("/pairs", s.RegisterPair)
			r.Put("/pairs/{pair}/config", s.UpdatePairConfig)
			r.Put("/pairs/{pair}/paused", s.SetPaused)
		})

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Use(ownAccount)
			r.Get("/orders", s.ListOrders)
			r.Get("/positions", s.ListPositions)
			r.Get("/events", s.ListEvents)
			r.Get("/balances/{asset}", s.GetBalance)
			r.Get("/referrer", s.GetReferrer)
			r.With(auth.RequireRole(auth.RoleAdmin)).Post("/deposits", s.Deposit)
			r.With(auth.RequireRole(auth.RoleAdmin)).Put("/referrer", s.SetReferrer)
		})
	})

	return r
}

// ownAccount lets traders read only their own account. Admins and
// executors may read any account.
func ownAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		if !canRead(claims, chi.URLParam(r, "account")) {
			writeError(w, "cannot read another account", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// streamAccess applies the ownAccount rule to WebSocket streams filtered
// by ?account=. Browsers cannot set headers on a WebSocket handshake, so
// the token may also come from ?access_token=. Unfiltered streams carry
// no account-specific data and stay public.
func streamAccess(tokens *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := r.URL.Query().Get("account")
			if account == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				token = r.URL.Query().Get("access_token")
			}
			if token == "" {
				writeError(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := tokens.Validate(token)
			if err != nil {
				writeError(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if !canRead(claims, account) {
				writeError(w, "cannot stream another account", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func canRead(claims *auth.Claims, account string) bool {
	return claims.Account() == account || claims.Has(auth.RoleAdmin) || claims.Has(auth.RoleExecutor)
}
