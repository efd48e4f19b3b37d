package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/account"
	"github.com/ras-rm/auth-service/internal/logging"
	"github.com/ras-rm/auth-service/internal/services"
	"github.com/ras-rm/auth-service/internal/store"
	"github.com/ras-rm/auth-service/types"
)

const (
	titleCreate = "Auth service account create error"
	titleUpdate = "Auth service account update user error"
	titleDelete = "Auth service delete user error"
	titleGet    = "Auth service get user error"
	titlePatch  = "Auth service patch user error"

	detailUnknownUser = "Unauthorized user credentials. This user does not exist on the Auth server"
)

// AccountHandler serves the account management endpoints.
type AccountHandler struct {
	accounts *services.AccountService
	logger   *zap.Logger
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(accounts *services.AccountService, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{accounts: accounts, logger: logger}
}

// AccountRouter registers account routes on the given router.
func AccountRouter(r chi.Router, accounts *services.AccountService, logger *zap.Logger) {
	handler := NewAccountHandler(accounts, logger)

	r.Post("/create", handler.Create)
	r.Put("/create", handler.Update)
	r.Delete("/user", handler.Delete)
	r.Get("/user/{username}", handler.Get)
	r.Patch("/user/{username}", handler.Patch)
}

type accountResponse struct {
	Account string `json:"account"`
	Created string `json:"created,omitempty"`
	Updated string `json:"updated,omitempty"`
}

// UserResponse is the read-only projection of an account's retention state.
type UserResponse struct {
	ID                      int64      `json:"id"`
	Username                string     `json:"username"`
	AccountVerified         bool       `json:"account_verified"`
	AccountLocked           bool       `json:"account_locked"`
	MarkForDeletion         bool       `json:"mark_for_deletion"`
	ForceDelete             bool       `json:"force_delete"`
	FirstNotification       *time.Time `json:"first_notification"`
	SecondNotification      *time.Time `json:"second_notification"`
	ThirdNotification       *time.Time `json:"third_notification"`
	LastLoginDate           *time.Time `json:"last_login_date"`
	AccountCreationDate     time.Time  `json:"account_creation_date"`
	AccountVerificationDate *time.Time `json:"account_verification_date"`
}

func toUserResponse(acc types.Account) UserResponse {
	return UserResponse{
		ID:                      acc.ID,
		Username:                acc.Username,
		AccountVerified:         acc.AccountVerified,
		AccountLocked:           acc.AccountLocked,
		MarkForDeletion:         acc.MarkForDeletion,
		ForceDelete:             acc.ForceDelete,
		FirstNotification:       acc.FirstNotification,
		SecondNotification:      acc.SecondNotification,
		ThirdNotification:       acc.ThirdNotification,
		LastLoginDate:           acc.LastLoginDate,
		AccountCreationDate:     acc.AccountCreationDate,
		AccountVerificationDate: acc.AccountVerificationDate,
	}
}

// Create registers a new unverified account.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	values, err := formValues(r)
	if err != nil || !required(values, "username", "password") {
		writeError(w, http.StatusBadRequest, "Authentication error in Auth service", "Missing 'username' or 'password'")
		return
	}

	acc, err := h.accounts.Create(r.Context(), values.Get("username"), values.Get("password"))
	switch {
	case errors.Is(err, store.ErrConflict):
		h.logger.Info("unable to create account with requested username", logging.Email("username", values.Get("username")))
		writeError(w, http.StatusConflict, titleCreate, "Unable to create account with requested username")
		return
	case account.IsValidationError(err):
		writeError(w, http.StatusBadRequest, titleCreate, "Missing 'username' or 'password'")
		return
	case err != nil:
		h.logger.Error("unable to commit account to database", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Auth service account create db error", "Unable to commit account to database")
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{Account: acc.Username, Created: "success"})
}

// Update applies rename, verification, password and unlock changes.
func (h *AccountHandler) Update(w http.ResponseWriter, r *http.Request) {
	values, err := formValues(r)
	if err != nil || !required(values, "username") {
		writeError(w, http.StatusBadRequest, titleUpdate, "Missing 'username'")
		return
	}

	update, detail, err := parseUpdate(values)
	if err != nil {
		h.logger.Info("request param is an invalid type", zap.Error(err))
		writeError(w, http.StatusBadRequest, titleUpdate, detail)
		return
	}

	acc, err := h.accounts.Update(r.Context(), values.Get("username"), update)
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.logger.Info("user does not exist", logging.Email("username", values.Get("username")))
		writeError(w, http.StatusUnauthorized, titleUpdate, detailUnknownUser)
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, titleUpdate, "Unable to update account with requested username")
		return
	case account.IsValidationError(err):
		writeError(w, http.StatusBadRequest, titleUpdate, err.Error())
		return
	case err != nil:
		h.logger.Error("unable to commit updated account to database", zap.Error(err))
		writeError(w, http.StatusInternalServerError, titleUpdate, "Unable to commit updated account to database")
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{Account: acc.Username, Updated: "success"})
}

func parseUpdate(values url.Values) (account.Update, string, error) {
	update := account.Update{
		NewUsername: optional(values, "new_username"),
		Password:    optional(values, "password"),
	}
	if raw := optional(values, "account_verified"); raw != nil {
		verified, err := account.ParseFlag(*raw)
		if err != nil {
			return account.Update{}, "account_verified status is invalid", err
		}
		update.AccountVerified = &verified
	}
	if raw := optional(values, "account_locked"); raw != nil {
		locked, err := account.ParseFlag(*raw)
		if err != nil {
			return account.Update{}, "account_locked status is invalid", err
		}
		update.AccountLocked = &locked
	}
	return update, "", nil
}

// Delete marks an account for deletion, optionally forcing it.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	values, err := formValues(r)
	if err != nil || !required(values, "username") {
		writeError(w, http.StatusBadRequest, titleDelete, "Missing 'username'")
		return
	}
	username := values.Get("username")

	force := false
	if raw := optional(values, "force_delete"); raw != nil {
		if force, err = account.ParseFlag(*raw); err != nil {
			writeError(w, http.StatusBadRequest, titleDelete, "force_delete value is invalid")
			return
		}
	}

	logger := h.logger.With(logging.Email("username", username))
	logger.Info("deleting user", zap.Bool("force_delete", force))
	err = h.accounts.RequestSoftDelete(r.Context(), username, force)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Info("user does not exist")
		writeError(w, http.StatusNotFound, titleDelete, "This user does not exist on the Auth server")
		return
	case err != nil:
		logger.Error("unable to commit delete operation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, titleDelete, "Unable to commit delete operation")
		return
	}

	logger.Info("successfully deleted user")
	w.WriteHeader(http.StatusNoContent)
}

// Get returns the retention projection of an account.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	acc, err := h.accounts.Get(r.Context(), username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, titleGet, "This user does not exist on the Auth server")
		return
	case err != nil:
		h.logger.Error("unable to read account", zap.Error(err))
		writeError(w, http.StatusInternalServerError, titleGet, "Unable to read account")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(acc))
}

// Patch applies an administrative override of deletion state.
func (h *AccountHandler) Patch(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	values, err := formValues(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, titlePatch, "Patch data validation failed")
		return
	}

	patch, err := parsePatch(values)
	if err != nil {
		h.logger.Info("patch data validation failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, titlePatch, "Patch data validation failed")
		return
	}

	acc, err := h.accounts.AdministrativePatch(r.Context(), username, patch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, titlePatch, "This user does not exist on the Auth server")
		return
	case account.IsValidationError(err):
		writeError(w, http.StatusBadRequest, titlePatch, "Patch data validation failed")
		return
	case err != nil:
		h.logger.Error("unable to commit patch operation", zap.Error(err))
		writeError(w, http.StatusInternalServerError, titlePatch, "Unable to commit patch operation")
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(acc))
}

func parsePatch(values url.Values) (account.AdminPatch, error) {
	var patch account.AdminPatch
	for key, target := range map[string]**bool{
		"mark_for_deletion": &patch.MarkForDeletion,
		"force_delete":      &patch.ForceDelete,
	} {
		raw := optional(values, key)
		if raw == nil {
			continue
		}
		flag, err := account.ParseFlag(*raw)
		if err != nil {
			return account.AdminPatch{}, err
		}
		*target = &flag
	}

	for _, stage := range types.Stages {
		raw := optional(values, stage.String()+"_notification")
		if raw == nil {
			continue
		}
		at, err := account.ParseTimestamp(*raw)
		if err != nil {
			return account.AdminPatch{}, err
		}
		if patch.Notifications == nil {
			patch.Notifications = map[types.Stage]*time.Time{}
		}
		patch.Notifications[stage] = at
	}

	if patch.Empty() {
		return account.AdminPatch{}, account.ErrInvalidInput
	}
	return patch, nil
}
