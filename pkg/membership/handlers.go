package membership

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/auth"
	"github.com/meridianerp/meridian/pkg/httputil"
	"github.com/meridianerp/meridian/pkg/observability"
)

// Handlers provides HTTP handlers for membership management
type Handlers struct {
	store  *Store
	logger *observability.Logger
}

// NewHandlers creates membership handlers
func NewHandlers(store *Store, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// Middleware wraps a handler with a permission requirement, matching the
// rbac permission middleware's RequirePermission shape.
type Middleware func(code string) func(http.Handler) http.Handler

// RegisterRoutes registers membership routes on the router, gating each
// with the membership permission its verb requires.
func (h *Handlers) RegisterRoutes(r *mux.Router, require Middleware) {
	gate := func(code string, fn http.HandlerFunc) http.Handler {
		return require(code)(fn)
	}

	r.Handle("/organizations/{orgID}/members", gate("memberships.view_membership", h.ListMembers)).Methods(http.MethodGet)
	r.Handle("/organizations/{orgID}/members", gate("memberships.add_membership", h.AddMember)).Methods(http.MethodPost)
	r.Handle("/organizations/{orgID}/members/{userID}", gate("memberships.change_membership", h.UpdateMember)).Methods(http.MethodPatch)
	r.Handle("/organizations/{orgID}/members/{userID}", gate("memberships.delete_membership", h.RemoveMember)).Methods(http.MethodDelete)
	r.Handle("/organizations/{orgID}/invitations", gate("memberships.view_membership", h.ListInvitations)).Methods(http.MethodGet)
	r.Handle("/organizations/{orgID}/invitations", gate("memberships.add_membership", h.Invite)).Methods(http.MethodPost)
	r.Handle("/organizations/{orgID}/invitations/{invitationID}", gate("memberships.delete_membership", h.RevokeInvitation)).Methods(http.MethodDelete)
}

// RegisterInvitationAccept registers the token redemption route; it needs
// authentication but no organization permission, since the caller is not a
// member yet.
func (h *Handlers) RegisterInvitationAccept(r *mux.Router) {
	r.HandleFunc("/invitations/{token}/accept", h.AcceptInvitation).Methods(http.MethodPost)
}

// ListMembers handles GET /organizations/{orgID}/members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	members, err := h.store.ListMembers(r.Context(), orgID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list members")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"members": members, "count": len(members)})
}

// AddMember handles POST /organizations/{orgID}/members
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	m := &Membership{UserID: req.UserID, OrganizationID: orgID, RoleID: req.RoleID}
	if err := h.store.Add(r.Context(), m); err != nil {
		h.logger.WithError(err).Error("Failed to add member")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, m)
}

// UpdateMember handles PATCH /organizations/{orgID}/members/{userID}
func (h *Handlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.store.UpdateRole(r.Context(), userID, orgID, req.RoleID); err != nil {
		h.logger.WithError(err).Error("Failed to update member role")
		httputil.WriteAppError(w, err)
		return
	}

	m, err := h.store.GetActive(r.Context(), userID, orgID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

// RemoveMember handles DELETE /organizations/{orgID}/members/{userID}
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "userID")
	if !ok {
		return
	}

	if err := h.store.Deactivate(r.Context(), userID, orgID); err != nil {
		h.logger.WithError(err).Error("Failed to remove member")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListInvitations handles GET /organizations/{orgID}/invitations
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	invitations, err := h.store.ListInvitations(r.Context(), orgID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list invitations")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"invitations": invitations, "count": len(invitations)})
}

// Invite handles POST /organizations/{orgID}/invitations
func (h *Handlers) Invite(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}

	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv, err := h.store.Invite(r.Context(), orgID, &req, principal.User.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create invitation")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, inv)
}

// RevokeInvitation handles DELETE /organizations/{orgID}/invitations/{invitationID}
func (h *Handlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "orgID")
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "invitationID")
	if !ok {
		return
	}

	if err := h.store.RevokeInvitation(r.Context(), orgID, invitationID); err != nil {
		h.logger.WithError(err).Error("Failed to revoke invitation")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// AcceptInvitation handles POST /invitations/{token}/accept
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, err := httputil.ParsePathString(r, "token")
	if err != nil {
		httputil.WriteBadRequest(w, "invitation token is required")
		return
	}

	principal, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	m, err := h.store.AcceptInvitation(r.Context(), token, principal.User.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to accept invitation")
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, m)
}
