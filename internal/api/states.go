package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openpeerpower/core/internal/auth"
	"github.com/openpeerpower/core/internal/core"
)

// permissionsFor returns the request user's entity policy.
func permissionsFor(user *auth.User) auth.Permissions {
	if user.Permissions != nil {
		return user.Permissions
	}
	return auth.PermissionsFor(user, nil)
}

// handleGetStates lists the states the user may read.
func (s *Server) handleGetStates(w http.ResponseWriter, r *http.Request) {
	perms := permissionsFor(userFromContext(r.Context()))
	states := s.hub.States.All()
	if !perms.AccessAllEntities(auth.PermRead) {
		states = slices.DeleteFunc(states, func(st *core.State) bool {
			return !perms.CheckEntity(st.EntityID, auth.PermRead)
		})
	}
	writeJSON(w, http.StatusOK, states)
}

// handleGetState returns one state. Entities the user may not read are
// reported as missing.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entityID := strings.ToLower(chi.URLParam(r, "entity_id"))
	perms := permissionsFor(userFromContext(r.Context()))

	state, ok := s.hub.States.Get(entityID)
	if !ok || !perms.CheckEntity(entityID, auth.PermRead) {
		writeNotFound(w, "Entity not found.")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetConfig returns the hub configuration snapshot.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Config.AsMap())
}

// handleGetServices returns every registered service by domain.
func (s *Server) handleGetServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Services.Services())
}
