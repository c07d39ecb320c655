package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grantd.org/internal/access"
	"grantd.org/internal/auth"
)

type submitRequestRequest struct {
	TargetUserID string                 `json:"target_user_id"`
	Items        []access.RequestedItem `json:"items"`
	Note         string                 `json:"note"`
}

type rejectItemRequest struct {
	Reason string `json:"reason"`
}

type provisionBulkRequest struct {
	ItemIDs []string `json:"item_ids"`
}

type logGrantRequest struct {
	UserID           string `json:"user_id"`
	SystemInstanceID string `json:"system_instance_id"`
	AccessTierID     string `json:"access_tier_id"`
}

type copyGrantsRequest struct {
	SourceUserID     string   `json:"source_user_id"`
	SystemIDs        []string `json:"system_ids"`
	ExcludeSystemIDs []string `json:"exclude_system_ids"`
}

type listGrantsResponse struct {
	Items []access.AccessGrant `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

type listRequestsResponse struct {
	Items []access.AccessRequest `json:"items"`
	AsOf  time.Time              `json:"as_of"`
}

type auditTrailResponse struct {
	Items     []access.AuditEntry `json:"items"`
	NextAfter string              `json:"next_after"`
	AsOf      time.Time           `json:"as_of"`
}

func (a *API) actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="grantd"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return id, true
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.submitRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actorID(w, r)
	if !ok {
		return
	}
	var req submitRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := strings.TrimSpace(req.TargetUserID)
	if target == "" {
		target = actor
	}

	created, err := a.svc.SubmitRequest(r.Context(), access.SubmitRequestInput{
		RequesterID:  actor,
		TargetUserID: target,
		Items:        req.Items,
		Note:         req.Note,
	})
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/requests/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	req, err := a.svc.Request(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.actorID(w, r)
	if !ok {
		return
	}
	items, err := a.svc.ListPending(r.Context(), actor)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRequestsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) handleItemAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/requests/items/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actorID(w, r)
	if !ok {
		return
	}
	itemID := parts[0]

	switch parts[1] {
	case "approve":
		item, err := a.svc.ApproveItem(r.Context(), itemID, actor)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case "reject":
		var req rejectItemRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		item, err := a.svc.RejectItem(r.Context(), itemID, actor, req.Reason)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case "provision":
		grant, err := a.svc.ProvisionItem(r.Context(), itemID, actor)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, grant)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleProvisionBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actorID(w, r)
	if !ok {
		return
	}
	var req provisionBulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.svc.ProvisionBulk(r.Context(), req.ItemIDs, actor)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.actorID(w, r)
	if !ok {
		return
	}
	var req logGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.SystemInstanceID) == "" || strings.TrimSpace(req.AccessTierID) == "" {
		writeError(w, r, http.StatusBadRequest, "system_instance_id and access_tier_id are required")
		return
	}
	grant, err := a.svc.LogGrant(r.Context(), actor, req.UserID, req.SystemInstanceID, req.AccessTierID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) handleGrantAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/grants/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	actor, ok := a.actorID(w, r)
	if !ok {
		return
	}
	grantID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		grant, err := a.svc.Grant(r.Context(), grantID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	switch parts[1] {
	case "mark-removal":
		grant, err := a.svc.MarkGrantForRemoval(r.Context(), grantID, actor)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)
	case "remove":
		grant, err := a.svc.RemoveGrant(r.Context(), grantID, actor)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]

	switch parts[1] {
	case "grants":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		status := access.GrantStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		items, err := a.svc.UserGrants(r.Context(), userID, status)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listGrantsResponse{Items: items, AsOf: time.Now().UTC()})
	case "copy-grants":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		actor, ok := a.actorID(w, r)
		if !ok {
			return
		}
		var req copyGrantsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.SourceUserID) == "" {
			writeError(w, r, http.StatusBadRequest, "source_user_id is required")
			return
		}
		result, err := a.svc.CopyFromUser(r.Context(), access.CopyInput{
			ActorID:          actor,
			SourceUserID:     req.SourceUserID,
			TargetUserID:     userID,
			SystemIDs:        req.SystemIDs,
			ExcludeSystemIDs: req.ExcludeSystemIDs,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	after := strings.TrimSpace(r.URL.Query().Get("after"))

	items, err := a.svc.AuditTrail(r.Context(), limit, after)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	next := ""
	if len(items) > 0 {
		next = items[len(items)-1].ID
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{Items: items, NextAfter: next, AsOf: time.Now().UTC()})
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
