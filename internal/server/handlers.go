package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/authz"
	"github.com/smallbiznis/platformd/internal/command"
	"github.com/smallbiznis/platformd/internal/query"
)

// registerUserRequest is the caller-facing body for POST /api/users,
// mirroring the reference gateway's RegisterUserDto — the caller sends a
// plaintext password, this layer hashes it before it ever reaches a
// command, the aggregate never sees anything but the digest.
type registerUserRequest struct {
	UserID            string  `json:"user_id"`
	Username          string  `json:"username" binding:"required"`
	Email             string  `json:"email" binding:"required"`
	PasswordPlaintext string  `json:"password" binding:"required"`
	InitialRole       string  `json:"initial_role" binding:"required"`
	TenantID          *string `json:"tenant_id"`
}

type registerUserResponse struct {
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Role     string  `json:"role"`
	TenantID *string `json:"tenant_id,omitempty"`
}

// RegisterUser creates the first PlatformAdmin with no caller at all, or a
// new user on behalf of an authenticated caller who is a platform admin,
// or a tenant admin registering a non-PlatformAdmin user into their own
// tenant — mirroring handle_register_user_request's Uuid::new_v4 id
// generation and pre-aggregate password hashing.
func (s *Server) RegisterUser(c *gin.Context) {
	if s.rateLimited(c, "register_user", 1, 5) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, command.ErrValidation)
		return
	}

	role, err := aggregate.ParseRole(req.InitialRole)
	if err != nil {
		AbortWithError(c, command.ErrValidation)
		return
	}

	isFirst, err := s.handlers.IsFirstUser(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch {
	case isFirst:
		// Bootstrap: no caller exists yet to authorize against, so the
		// very first registration is only ever allowed to mint the
		// platform's root PlatformAdmin.
		if role != aggregate.RolePlatformAdmin {
			AbortWithError(c, command.ErrValidation)
			return
		}
	default:
		// Once the bootstrap admin exists, registering a new user is always
		// an authorization decision, never merely a missing-credentials one
		// — an unauthenticated caller here is rejected the same way an
		// authenticated-but-unauthorized one is.
		caller, err := s.resolveCaller(c)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				AbortWithError(c, authz.ErrForbidden)
				return
			}
			AbortWithError(c, err)
			return
		}
		ownTenant := caller.Role == aggregate.RoleTenantAdmin && role != aggregate.RolePlatformAdmin &&
			caller.TenantID != nil && req.TenantID != nil && *caller.TenantID == *req.TenantID
		if caller.Role != aggregate.RolePlatformAdmin && !ownTenant {
			AbortWithError(c, authz.ErrForbidden)
			return
		}
		if err := s.enforce(caller, authz.ObjectUser, authz.ActionWrite); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	passwordHash, err := s.hasher.Hash(req.PasswordPlaintext)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = newID()
	}

	user, err := s.handlers.RegisterUser(c.Request.Context(), command.RegisterUserRequest{
		UserID:       userID,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		InitialRole:  role,
		TenantID:     req.TenantID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerUserResponse{
		UserID:   user.AggregateID(),
		Username: req.Username,
		Email:    req.Email,
		Role:     string(user.Role()),
		TenantID: user.TenantID(),
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword lets a caller change their own password, after proving
// they know the current one. Only self is ever allowed, mirroring
// HandleChangePassword's own cmd.UserID == u.id check — there is no admin
// override here, by aggregate design.
func (s *Server) ChangePassword(c *gin.Context) {
	targetUserID := c.Param("user_id")
	caller := callerFromContext(c)
	if caller.UserID != targetUserID {
		AbortWithError(c, authz.ErrForbidden)
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, command.ErrValidation)
		return
	}

	user, err := s.handlers.LoadUser(c.Request.Context(), targetUserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ok, err := s.hasher.Verify(req.OldPassword, user.PasswordHash())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		AbortWithError(c, authz.ErrForbidden)
		return
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.handlers.ChangePassword(c.Request.Context(), targetUserID, newHash); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type generateAPIKeyRequest struct {
	KeyName string `json:"key_name" binding:"required"`
}

type generateAPIKeyResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

// GenerateAPIKey issues a fresh API key for the target user. A caller may
// always mint a key for themselves; minting on someone else's behalf
// requires platform-admin or tenant-admin-of-the-same-tenant, the same
// SelfOrTenantAdmin split query.rs uses for reading keys.
func (s *Server) GenerateAPIKey(c *gin.Context) {
	if s.rateLimited(c, "generate_api_key", 0.2, 3) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	targetUserID := c.Param("user_id")
	caller := callerFromContext(c)

	var req generateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, command.ErrValidation)
		return
	}

	if caller.UserID != targetUserID {
		targetTenantID, err := s.queries.TargetUserTenant(c.Request.Context(), targetUserID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := authz.Authorize(caller.UserID, caller.TenantID, caller.Role,
			authz.SelfOrTenantAdminRequirement(targetUserID, targetTenantID)); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	if err := s.enforce(caller, authz.ObjectAPIKey, authz.ActionWrite); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.handlers.GenerateAPIKey(c.Request.Context(), targetUserID, req.KeyName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, generateAPIKeyResponse{KeyID: result.KeyID, APIKey: result.PlainText})
}

// RevokeAPIKey revokes one of the target user's API keys, under the same
// self-or-tenant-admin authorization GenerateAPIKey uses.
func (s *Server) RevokeAPIKey(c *gin.Context) {
	targetUserID := c.Param("user_id")
	keyID := c.Param("key_id")
	caller := callerFromContext(c)

	if caller.UserID != targetUserID {
		targetTenantID, err := s.queries.TargetUserTenant(c.Request.Context(), targetUserID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := authz.Authorize(caller.UserID, caller.TenantID, caller.Role,
			authz.SelfOrTenantAdminRequirement(targetUserID, targetTenantID)); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	if err := s.enforce(caller, authz.ObjectAPIKey, authz.ActionRevoke); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.handlers.RevokeAPIKey(c.Request.Context(), targetUserID, keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type createTenantRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name" binding:"required"`
}

type createTenantResponse struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// CreateTenant is platform-admin only, mirroring the reference gateway's
// own tenant-creation gate.
func (s *Server) CreateTenant(c *gin.Context) {
	caller := callerFromContext(c)
	if err := authz.Authorize(caller.UserID, caller.TenantID, caller.Role, authz.PlatformAdminOnlyRequirement()); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.enforce(caller, authz.ObjectTenant, authz.ActionWrite); err != nil {
		AbortWithError(c, err)
		return
	}

	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, command.ErrValidation)
		return
	}

	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = newID()
	}

	tenant, err := s.handlers.CreateTenant(c.Request.Context(), tenantID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, createTenantResponse{TenantID: tenant.AggregateID(), Name: tenant.Name()})
}

// ListTenants returns every tenant for a platform admin or the caller's
// own tenant otherwise.
func (s *Server) ListTenants(c *gin.Context) {
	caller := callerFromContext(c)
	result, err := s.queries.ListTenants(c.Request.Context(), caller)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListUsers returns every user for a platform admin, a tenant's users for
// a tenant admin, or just the caller's own row for a pilot.
func (s *Server) ListUsers(c *gin.Context) {
	caller := callerFromContext(c)
	page := query.Pagination{
		Limit:  queryUint(c, "limit"),
		Offset: queryUint(c, "offset"),
	}

	result, err := s.queries.ListUsers(c.Request.Context(), caller, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListUserAPIKeys returns the API keys issued to the target user, after
// the same self-or-tenant-admin authorization check ListUserAPIKeys's own
// Service method enforces.
func (s *Server) ListUserAPIKeys(c *gin.Context) {
	caller := callerFromContext(c)
	targetUserID := c.Param("user_id")

	result, err := s.queries.ListUserAPIKeys(c.Request.Context(), caller, targetUserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
