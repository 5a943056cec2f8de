package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/cadplug/pkg/httputil"
	"github.com/platinummonkey/cadplug/pkg/observability"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

// ErrOutsideRoot is returned for targets that resolve outside the server root
var ErrOutsideRoot = errors.New("path is outside the verification root")

// VerifyRequest is the body of POST /api/v1/verifications
type VerifyRequest struct {
	Path  string `json:"path"`
	Actor string `json:"actor,omitempty"`
}

// ListResponse is the body of GET /api/v1/verifications
type ListResponse struct {
	Verifications []*plugins.VerificationRecord `json:"verifications"`
	Limit         int                           `json:"limit"`
}

// createVerification handles POST /api/v1/verifications
func (s *Server) createVerification(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		httputil.WriteBadRequest(w, "path is required")
		return
	}

	target, err := resolveTarget(s.root, req.Path)
	if err != nil {
		httputil.WriteForbidden(w, err.Error())
		return
	}

	log := observability.FromContext(r.Context()).WithField("path", target)
	v, err := s.service.Verify(r.Context(), target, req.Actor)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		httputil.WriteNotFoundError(w, fmt.Sprintf("%s does not exist", req.Path))
		return
	case err != nil:
		log.WithError(err).Error("Verification failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, v)
}

// getVerification handles GET /api/v1/verifications/{id}
func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	rec, err := s.ledger.Get(r.Context(), id)
	if errors.Is(err, plugins.ErrVerificationNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to load verification")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, rec)
}

// listVerifications handles GET /api/v1/verifications
func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultListLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit < 1 || limit > maxListLimit {
		httputil.WriteBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		return
	}

	records, err := s.ledger.List(r.Context(), limit)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to list verifications")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, ListResponse{Verifications: records, Limit: limit})
}

// validateManifest handles POST /api/v1/manifests/validate. The body is the
// raw plugin.json document; an invalid manifest is still a 200 response.
func (s *Server) validateManifest(w http.ResponseWriter, r *http.Request) {
	data, err := httputil.ReadBody(r, maxRequestBytes)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if len(data) == 0 {
		httputil.WriteBadRequest(w, "request body is empty")
		return
	}

	httputil.WriteSuccess(w, plugins.ValidateManifest(data))
}

// resolveTarget joins relative paths onto root and rejects any result that
// escapes it. With an empty root the cleaned path is returned unchanged.
func resolveTarget(root, p string) (string, error) {
	if root == "" {
		return filepath.Clean(p), nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return target, nil
}
