package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/esnunes/repeater/internal/client"
	"github.com/esnunes/repeater/internal/db"
	"github.com/esnunes/repeater/internal/fields"
	"github.com/esnunes/repeater/internal/models"
	"github.com/esnunes/repeater/internal/repeater"
)

type dashboardData struct {
	Hosts     []*models.Node
	Templates []string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.service.ListHosts(r.Context())
	if err != nil {
		s.log(r).Error("listing hosts", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.renderPage(w, r, "dashboard.html", dashboardData{
		Hosts:     hosts,
		Templates: s.service.Registry().TemplateNames(),
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	host, err := s.service.CreateHost(r.Context(), userID(r), r.FormValue("template"), r.FormValue("title"))
	if errors.Is(err, repeater.ErrInvalid) {
		http.Error(w, "Unknown template", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.log(r).Error("creating host", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/records/%d", host.ID), http.StatusSeeOther)
}

type editData struct {
	Host   *models.Node
	Title  string
	Fields []fieldData
	Saved  bool
}

type fieldData struct {
	Field *fields.Field
	Value string
	// Items is set for repeater fields only.
	Items []itemData
}

// itemData is the edit representation of one repeater item.
type itemData struct {
	HostID  int64
	Field   *fields.Field
	ID      int64
	State   repeater.State
	Publish repeater.PublishFlag
	Sort    int
	Label   string
	Public  bool
	Subs    []subData
	Item    *repeater.Item
}

type subData struct {
	Field *fields.Field
	Value string
}

func (s *Server) newItemData(host *models.Node, field *fields.Field, it *repeater.Item, sort int) itemData {
	d := itemData{
		HostID: host.ID,
		Field:  field,
		ID:     it.ID(),
		State:  it.State(),
		Sort:   sort,
		Label:  "#" + strconv.Itoa(sort+1),
		Item:   it,
	}
	switch d.State {
	case repeater.StateActive:
		d.Publish = repeater.PublishOn
	case repeater.StateOff:
		d.Publish = repeater.PublishOff
	case repeater.StateDraft:
		// an added draft is attached as published unless toggled off
		d.Publish = repeater.PublishOn
		d.Label = "new"
	}
	for _, sub := range s.service.Registry().SubFields(field) {
		d.Subs = append(d.Subs, subData{Field: sub, Value: it.Values[sub.Name]})
	}
	return d
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	view, err := s.service.Host(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log(r).Error("loading host", "host", id, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := editData{
		Host:  view.Host,
		Title: view.Values["title"],
		Saved: r.URL.Query().Get("saved") == "1",
	}
	for _, f := range view.Fields {
		fd := fieldData{Field: f, Value: view.Values[f.Name]}
		for i, it := range view.Repeaters[f.Name] {
			d := s.newItemData(view.Host, f, it, i)
			d.Public = view.Public[it.ID()]
			fd.Items = append(fd.Items, d)
		}
		data.Fields = append(data.Fields, fd)
	}
	s.renderPage(w, r, "edit.html", data)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	res, err := s.service.SaveHost(r.Context(), userID(r), id, r.PostForm)
	switch {
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case errors.Is(err, repeater.ErrPermissionDenied):
		s.log(r).Info("save refused", "host", id, "err", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case errors.Is(err, repeater.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.log(r).Error("saving host", "host", id, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if len(res.Ignored) > 0 {
		s.log(r).Info("ignored submitted items", "host", id, "items", res.Ignored)
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/records/%d?saved=1", id), http.StatusSeeOther)
}

// handleAdd answers the client add round trip. A refused add is an empty
// 200 so the client can tell it apart from a transport failure.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	req, ok := parseAddRequest(r)
	if !ok {
		s.log(r).Info("add refused: malformed request", "query", r.URL.RawQuery)
		w.WriteHeader(http.StatusOK)
		return
	}
	req.UserID = userID(r)

	res, err := s.service.Add(r.Context(), req)
	switch {
	case errors.Is(err, repeater.ErrPermissionDenied),
		errors.Is(err, repeater.ErrNotRepeater),
		errors.Is(err, db.ErrNotFound):
		s.log(r).Info("add refused", "host", req.HostID, "field", req.FieldID, "err", err)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		s.log(r).Error("adding item", "host", req.HostID, "field", req.FieldID, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	d := s.newItemData(res.Host, res.Field, res.Item, len(req.Exclude))
	b, err := s.fragment("item_fragment.html", d)
	if err != nil {
		s.log(r).Error("render error", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(client.HeaderItem, strconv.FormatInt(res.Item.ID(), 10))
	w.Write(b)
}

func parseAddRequest(r *http.Request) (repeater.AddRequest, bool) {
	var req repeater.AddRequest
	var err error
	if req.HostID, err = strconv.ParseInt(r.Form.Get("hostId"), 10, 64); err != nil {
		return req, false
	}
	if req.FieldID, err = strconv.ParseInt(r.Form.Get("fieldId"), 10, 64); err != nil {
		return req, false
	}
	for _, part := range strings.Split(r.Form.Get("exclude"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return req, false
		}
		req.Exclude = append(req.Exclude, id)
	}
	return req, true
}
