package web

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/driver"
	"zwave-go-home/internal/scales"
	"zwave-go-home/internal/store"
)

// parseNodeID reads the {id} path value. Node IDs are 1-255.
func parseNodeID(r *http.Request) (uint8, bool) {
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 8)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint8(n), true
}

func (s *Server) handleAPIListClasses(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.drv.Registry().All())
}

type scaleView struct {
	MeterType uint8  `json:"meter_type"`
	Meter     string `json:"meter"`
	Scale     uint16 `json:"scale"`
	Label     string `json:"label"`
	Unit      string `json:"unit,omitempty"`
}

func (s *Server) handleAPIListScales(w http.ResponseWriter, r *http.Request) {
	views := []scaleView{}
	for _, mt := range s.scales.MeterTypes() {
		for _, idx := range s.scales.ScaleIndices(mt) {
			sc, _ := s.scales.Resolve(mt, idx)
			views = append(views, scaleView{MeterType: mt, Meter: s.scales.MeterName(mt), Scale: idx, Label: sc.Label, Unit: sc.Unit})
		}
	}
	s.writeJSON(w, http.StatusOK, views)
}

type decodeRequest struct {
	Class   uint8  `json:"class"`
	Command uint8  `json:"command"`
	Version uint8  `json:"version"`
	Payload string `json:"payload"` // hex, spaces allowed
}

type decodeResponse struct {
	Class   string     `json:"class"`
	Command string     `json:"command"`
	Version uint8      `json:"version"`
	Data    cc.Command `json:"data"`
	Values  []cc.Value `json:"values"`
}

func (s *Server) handleAPIDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(req.Payload, " ", ""))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "payload must be hex")
		return
	}

	reg := s.drv.Registry()
	cmd, err := reg.Decode(req.Class, req.Command, payload, req.Version)
	if err != nil {
		var de *cc.DecodeError
		if errors.As(err, &de) {
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": de.Error(), "kind": de.Kind.String()})
			return
		}
		s.logger.Error("decode", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := decodeResponse{Version: cmd.Version(), Data: cmd, Values: []cc.Value{}}
	if class, def, err := reg.Lookup(req.Class, req.Command); err == nil {
		resp.Class, resp.Command = class.Name, def.Name
	}
	if v, ok := cmd.(cc.Valuer); ok {
		for _, val := range v.Values() {
			if val.Visibility == cc.Public {
				resp.Values = append(resp.Values, val)
			}
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.drv.Store().ListNodes()
	if err != nil {
		s.logger.Error("list nodes", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if nodes == nil {
		nodes = []*store.Node{}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleAPIGetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	n, err := s.drv.Store().GetNode(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

type renameNodeRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameNode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req renameNodeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.drv.Store().UpdateNode(id, func(n *store.Node) error {
		n.Name = req.Name
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}
	if err != nil {
		s.logger.Error("rename node", "err", err, "node", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "name": req.Name})
}

func (s *Server) handleAPIDeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	if err := s.drv.Store().DeleteNode(id); err != nil {
		s.logger.Error("delete node", "err", err, "node", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// valueView is a cached value with the meter scale label resolved.
type valueView struct {
	store.ValueRecord
	Label string `json:"label,omitempty"`
	Unit  string `json:"unit,omitempty"`
}

func labelValue(table *scales.Table, rec *store.ValueRecord) valueView {
	v := valueView{ValueRecord: *rec}
	if rec.ClassID != classes.MeterID {
		return v
	}
	if mt, _, scale, ok := classes.ParseMeterValueKey(rec.PropertyKey); ok {
		if sc, ok := table.Resolve(mt, scale); ok {
			v.Label, v.Unit = sc.Label, sc.Unit
		}
	}
	return v
}

func (s *Server) handleAPINodeValues(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	recs, err := s.drv.Store().ListValues(id)
	if err != nil {
		s.logger.Error("list values", "err", err, "node", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]valueView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, labelValue(s.scales, rec))
	}
	s.writeJSON(w, http.StatusOK, views)
}

type setVersionRequest struct {
	Class   uint8 `json:"class"`
	Version uint8 `json:"version"`
}

func (s *Server) handleAPISetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req setVersionRequest
	if err := decodeBody(w, r, &req); err != nil || req.Version == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.drv.SetVersion(id, req.Class, req.Version); err != nil {
		s.logger.Error("set version", "err", err, "node", id)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint8{"version": s.drv.Version(id, req.Class)})
}

// requestStatus maps a driver request error onto an HTTP status.
func requestStatus(err error) int {
	switch {
	case errors.Is(err, cc.ErrEncodeContract), errors.Is(err, driver.ErrResetUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

type meterGetRequest struct {
	Scale    *uint16 `json:"scale"`
	RateType string  `json:"rate_type"`
}

type meterGetResponse struct {
	Report *classes.MeterReport `json:"report"`
	Label  string               `json:"label,omitempty"`
	Unit   string               `json:"unit,omitempty"`
}

func (s *Server) handleAPIMeterGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req meterGetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var rate *classes.RateType
	if req.RateType != "" {
		rt, err := classes.ParseRateType(req.RateType)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rate = &rt
	}

	rep, err := s.drv.Meter(r.Context(), id, req.Scale, rate)
	if err != nil {
		s.logger.Warn("meter get", "err", err, "node", id)
		s.writeError(w, requestStatus(err), err.Error())
		return
	}
	resp := meterGetResponse{Report: rep}
	if sc, ok := s.scales.Resolve(rep.MeterType, rep.Scale()); ok {
		resp.Label, resp.Unit = sc.Label, sc.Unit
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIMeterReset(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	if err := s.drv.MeterReset(r.Context(), id); err != nil {
		s.logger.Warn("meter reset", "err", err, "node", id)
		s.writeError(w, requestStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type wakeUpIntervalRequest struct {
	Seconds uint32 `json:"seconds"`
}

func (s *Server) handleAPISetWakeUpInterval(w http.ResponseWriter, r *http.Request) {
	id, ok := parseNodeID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req wakeUpIntervalRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.drv.SetWakeUpInterval(r.Context(), id, req.Seconds); err != nil {
		s.logger.Warn("set wake up interval", "err", err, "node", id)
		s.writeError(w, requestStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint32{"seconds": req.Seconds})
}
