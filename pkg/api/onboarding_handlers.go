package api

import (
	"net/http"
	"net/url"

	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/httputil"
	"github.com/avastusrada/permsync/pkg/observability"
)

// handleJoinGroup appends a _parent reference from the person to the group,
// attributed to the caller's own credential. Joining a group the person is
// already in succeeds without writing, so retries are safe.
func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	var req JoinGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.GroupID, "groupId") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "userId") {
		return
	}
	cred := entu.Credential(httputil.BearerToken(r))
	if cred == "" {
		httputil.WriteUnauthorized(w, "bearer token is required")
		return
	}

	logger = logger.WithFields(map[string]interface{}{
		"group_id":  req.GroupID,
		"person_id": req.UserID,
	})

	person, err := s.opts.Gateway.GetEntity(r.Context(), req.UserID, cred)
	if err != nil {
		if entu.IsUnauthorized(err) {
			httputil.WriteUnauthorized(w, "credential rejected by CMS")
			return
		}
		if entu.IsNotFound(err) {
			httputil.WriteNotFound(w, "person not found")
			return
		}
		logger.WithError(err).Error("Join failed: could not read person")
		httputil.WriteJSON(w, http.StatusBadGateway, JoinGroupResponse{Success: false, Error: "upstream unavailable"})
		return
	}

	if person.HasParent(req.GroupID) {
		logger.Info("Person already a group member, join is a no-op")
		httputil.WriteSuccess(w, JoinGroupResponse{Success: true})
		return
	}

	if err := s.opts.Gateway.AddReference(r.Context(), req.UserID, entu.PropParent, req.GroupID, cred); err != nil {
		logger.WithError(err).Error("Join failed: could not write parent reference")
		httputil.WriteJSON(w, http.StatusBadGateway, JoinGroupResponse{Success: false, Error: "failed to join group"})
		return
	}

	logger.Info("Person joined group")
	httputil.WriteSuccess(w, JoinGroupResponse{Success: true})
}

// handleCheckMembership reports whether the person shows up as a group member
// in the CMS search index. The onboarding client polls this until the
// webhook-driven synchronization has made the join visible.
func (s *Server) handleCheckMembership(w http.ResponseWriter, r *http.Request) {
	var groupID, userID string
	if r.Method == http.MethodGet {
		groupID = httputil.ParseQueryString(r, "groupId", "")
		userID = httputil.ParseQueryString(r, "userId", "")
	} else {
		var req JoinGroupRequest
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
		groupID, userID = req.GroupID, req.UserID
	}
	if !httputil.RequireNonEmpty(w, groupID, "groupId") {
		return
	}
	if !httputil.RequireNonEmpty(w, userID, "userId") {
		return
	}
	cred := entu.Credential(httputil.BearerToken(r))
	if cred == "" {
		httputil.WriteUnauthorized(w, "bearer token is required")
		return
	}

	members, err := s.opts.Gateway.SearchEntities(r.Context(), url.Values{
		"_type.string":      {entu.KindPerson},
		"_parent.reference": {groupID},
	}, cred)
	if err != nil {
		if entu.IsUnauthorized(err) {
			httputil.WriteUnauthorized(w, "credential rejected by CMS")
			return
		}
		observability.FromContext(r.Context()).WithError(err).Error("Membership check failed")
		httputil.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}

	for _, member := range members {
		if member.ID == userID {
			httputil.WriteSuccess(w, MembershipResponse{IsMember: true})
			return
		}
	}
	httputil.WriteSuccess(w, MembershipResponse{IsMember: false})
}
