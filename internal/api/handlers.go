package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nexuspark/internal/analytics"
	"nexuspark/internal/logging"
	"nexuspark/internal/models"
	"nexuspark/internal/rollback"
	"nexuspark/internal/services"
	"nexuspark/internal/zonegraph"
)

type connectionRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type distanceRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Distance int    `json:"distance"`
}

type parkingRequest struct {
	VehicleID     string  `json:"vehicle_id"`
	PreferredZone string  `json:"preferred_zone"`
	Hours         float64 `json:"hours"`
}

type undoRequest struct {
	Steps int `json:"steps"`
}

type undoResponse struct {
	Outcome string          `json:"outcome"`
	Result  rollback.Result `json:"result"`
	Error   string          `json:"error,omitempty"`
}

type zoneRequest struct {
	Zone        models.Zone         `json:"zone"`
	Connections []models.Connection `json:"connections"`
}

type reachableResponse struct {
	Start       string   `json:"start"`
	Reachable   []string `json:"reachable"`
	Unreachable []string `json:"unreachable"`
}

type message struct {
	Message string `json:"message"`
}

func zoneNode(z zonegraph.Zone) models.Node {
	return models.Node{
		ID:          z.ID,
		Name:        z.Name,
		Capacity:    z.Capacity,
		Free:        z.Free,
		HourlyRate:  z.HourlyRate.StringFixed(2),
		Utilization: z.Utilization(),
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listZones(w http.ResponseWriter, r *http.Request) {
	zones := h.svc.Zones()
	out := make([]models.Node, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneNode(z))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getZone(w http.ResponseWriter, r *http.Request) {
	z, err := h.svc.Zone(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, zoneNode(z))
}

// createZone adds a zone together with its connections.
func (h *Handler) createZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	for _, c := range req.Connections {
		if c.Source == "" || c.Target == "" {
			h.badRequest(w, r, "connections need both 'source' and 'target'")
			return
		}
	}

	if err := h.svc.AddZoneWithConnections(r.Context(), req.Zone, req.Connections); err != nil {
		h.fail(w, r, err)
		return
	}
	z, err := h.svc.Zone(req.Zone.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, zoneNode(z))
}

func (h *Handler) reachable(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reachable, unreachable, err := h.svc.Reachable(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reachableResponse{Start: id, Reachable: reachable, Unreachable: unreachable})
}

func (h *Handler) graph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GraphData())
}

func (h *Handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Vehicles())
}

func (h *Handler) route(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		h.badRequest(w, r, "query parameters 'from' and 'to' are required")
		return
	}

	route, err := h.svc.ShortestPath(from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if route.Path == nil {
		route.Path = []string{}
	}
	writeJSON(w, http.StatusOK, route)
}

func (h *Handler) closeConnection(w http.ResponseWriter, r *http.Request) {
	h.setConnection(w, r, false)
}

func (h *Handler) openConnection(w http.ResponseWriter, r *http.Request) {
	h.setConnection(w, r, true)
}

func (h *Handler) setConnection(w http.ResponseWriter, r *http.Request, open bool) {
	var req connectionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		h.badRequest(w, r, "fields 'from' and 'to' are required")
		return
	}

	var err error
	verb := "opened"
	if open {
		err = h.svc.OpenConnection(r.Context(), req.From, req.To)
	} else {
		verb = "closed"
		err = h.svc.CloseConnection(r.Context(), req.From, req.To)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: fmt.Sprintf("connection %s -> %s %s", req.From, req.To, verb)})
}

func (h *Handler) updateDistance(w http.ResponseWriter, r *http.Request) {
	var req distanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		h.badRequest(w, r, "fields 'from' and 'to' are required")
		return
	}
	if err := h.svc.UpdateConnectionDistance(r.Context(), req.From, req.To, req.Distance); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: fmt.Sprintf("connection %s -> %s distance set to %d", req.From, req.To, req.Distance)})
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var req parkingRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.VehicleID == "" {
		h.badRequest(w, r, "field 'vehicle_id' is required")
		return
	}

	id, err := h.svc.RequestParking(r.Context(), req.VehicleID, req.PreferredZone, req.Hours)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusCreated, id)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Requests())
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	h.writeRequest(w, r, http.StatusOK, r.PathValue("id"))
}

func (h *Handler) occupy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.OccupyParking(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, id)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.ReleaseParking(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, id)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.CancelParking(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, id)
}

// undo reverts one operation unless the body asks for more. An undo that
// stops early still answers 200 with outcome "partial".
func (h *Handler) undo(w http.ResponseWriter, r *http.Request) {
	req := undoRequest{Steps: 1}
	if !h.decodeOptional(w, r, &req) {
		return
	}

	res, err := h.svc.Undo(r.Context(), req.Steps)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, undoResponse{Outcome: services.OutcomeOK, Result: res})
	case res.Applied > 0:
		writeJSON(w, http.StatusOK, undoResponse{Outcome: services.OutcomePartial, Result: res, Error: err.Error()})
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.History())
}

// analytics answers JSON, or the plain text report for ?format=text.
func (h *Handler) analytics(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	report := analytics.Compute(snap.Zones, snap.Requests, h.peakZones, snap.TakenAt)

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteText(w); err != nil {
			h.log.Error(r.Context(), "writing analytics report", logging.Err(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) writeRequest(w http.ResponseWriter, r *http.Request, status int, id string) {
	req, err := h.svc.Request(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, req)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.log.Debug(r.Context(), "bad request", logging.String("path", r.URL.Path), logging.String("reason", msg))
	writeError(w, http.StatusBadRequest, msg)
}

// fail maps service errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", logging.String("path", r.URL.Path), logging.Err(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrZoneNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, services.ErrConnectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrNoCapacityAvailable),
		errors.Is(err, services.ErrUndoUnavailable),
		errors.Is(err, services.ErrUndoInconsistent),
		errors.Is(err, services.ErrZoneExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidDuration),
		errors.Is(err, services.ErrInvalidSteps),
		errors.Is(err, services.ErrInvalidZone),
		errors.Is(err, services.ErrInvalidConnection),
		errors.Is(err, services.ErrInvalidVehicle):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
