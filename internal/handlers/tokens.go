package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/account"
	"github.com/ras-rm/auth-service/internal/services"
	"github.com/ras-rm/auth-service/internal/store"
)

const titleTokens = "Auth service tokens error"

// TokensRouter registers the credential check endpoint. A successful check
// answers 204; no token is issued.
func TokensRouter(r chi.Router, accounts *services.AccountService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		values, err := formValues(r)
		if err != nil || !required(values, "username", "password") {
			writeError(w, http.StatusBadRequest, titleTokens, "Missing 'username' or 'password'")
			return
		}

		err = accounts.Authorise(r.Context(), values.Get("username"), values.Get("password"))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusUnauthorized, titleTokens, detailUnknownUser)
		case account.IsAuthorizationError(err):
			writeError(w, http.StatusUnauthorized, titleTokens, authorizationDetail(err))
		default:
			logger.Error("unable to commit login attempt", zap.Error(err))
			writeError(w, http.StatusInternalServerError, titleTokens, "Unable to commit login attempt")
		}
	})
}

func authorizationDetail(err error) string {
	switch {
	case errors.Is(err, account.ErrLocked):
		return "User account locked"
	case errors.Is(err, account.ErrNotVerified):
		return "User account not verified"
	case errors.Is(err, account.ErrDeleted):
		return "User account has been deleted"
	default:
		return "Unauthorized user credentials"
	}
}
