// Copyright 2025 The springbokd Authors
// This file is part of the springbokd library.
//
// The springbokd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The springbokd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the springbokd library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// restEndpoints maps REST resources to the command answering them.
var restEndpoints = map[string]string{
	"chaininfo": "getblockchaininfo",
}

type restHandler struct {
	srv *Server
}

func newRESTHandler(srv *Server) http.Handler {
	return &restHandler{srv: srv}
}

func (h *restHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if warm, status := h.srv.InWarmup(); warm {
		http.Error(w, "Service temporarily unavailable: "+status, http.StatusServiceUnavailable)
		return
	}
	resource := strings.TrimPrefix(r.URL.Path, "/rest/")
	name, format, ok := strings.Cut(resource, ".")
	method, known := restEndpoints[name]
	if !known {
		http.NotFound(w, r)
		return
	}
	if !ok || format != "json" {
		http.Error(w, "output format not found (available: json)", http.StatusNotFound)
		return
	}
	result, err := h.srv.Execute(r.Context(), method, nil)
	if err != nil {
		var ec Error
		if errors.As(err, &ec) && ec.ErrorCode() == ErrCodeInWarmup {
			http.Error(w, "Service temporarily unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", contentType)
	json.NewEncoder(w).Encode(result)
}
