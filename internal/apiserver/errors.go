package apiserver

import (
	"fmt"
	"net/http"

	"github.com/moolen/lookout/internal/api"
)

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	api.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path))
}
