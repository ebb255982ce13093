package signer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
)

type signRequest struct {
	Filename string `json:"filename"`
}

type signResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	presigner Presigner
	logger    log.Logger
}

// NewHandler returns a mux serving GET /api/sign?filename=, GET
// /api/sign/{filename} and POST /api/sign. Callers may register further
// routes on it.
func NewHandler(presigner Presigner, logger log.Logger) *http.ServeMux {
	h := handler{presigner: presigner, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sign", h.signQuery)
	mux.HandleFunc("GET /api/sign/{filename}", h.signPath)
	mux.HandleFunc("POST /api/sign", h.signPost)
	return mux
}

func (h handler) signQuery(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, r.URL.Query().Get("filename"))
}

func (h handler) signPath(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, r.PathValue("filename"))
}

func (h handler) signPost(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	h.sign(w, r, req.Filename)
}

func (h handler) sign(w http.ResponseWriter, r *http.Request, filename string) {
	name, err := ValidateFilename(filename)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	signedURL, err := h.presigner.PresignPut(r.Context(), name)
	if err != nil {
		h.logger.Errorf("Failed to presign %s: %s", name, err)
		h.writeError(w, http.StatusBadGateway, errors.New("presign failed"))
		return
	}
	h.logger.Debugf("Signed %s", name)

	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, signedURL)
		return
	}
	h.writeJSON(w, http.StatusOK, signResponse{URL: signedURL})
}

func (h handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnf("Failed to write response: %s", err)
	}
}
