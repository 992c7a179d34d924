package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/flosch/pongo2/v6"
	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/render"
	"github.com/leslieo2/go-template-reload/internal/templates"
)

var errBadTemplateName = errors.New("template name escapes the template root")

// pageHandler renders the template a request path maps to. Paths that no
// template answers are forwarded to the proxy when one is configured.
func (s *Server) pageHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The snapshot is acquired up front so page names resolve against the
	// templates that will render them. A failed rebuild still leaves a
	// servable snapshot behind, so its error has to be reported here for
	// every request the proxy does not take.
	env, acquireErr := s.reloader.Acquire(ctx)
	if acquireErr != nil {
		env = s.reloader.Current()
	}

	name, found, err := s.resolvePage(r.URL.Path, env)
	if err != nil {
		s.logger.Warn("Rejected template name", zap.String("path", r.URL.Path))
		s.sendErrorResponse(w, http.StatusBadRequest, constants.ErrorCodeBadTemplateName, err.Error())
		return
	}
	if s.proxy != nil && (!found || !isPageMethod(r.Method)) {
		s.proxy.ServeHTTP(w, r)
		return
	}

	if acquireErr != nil {
		s.sendRenderError(w, r, name, acquireErr)
		return
	}

	if !isPageMethod(r.Method) {
		w.Header().Set("Allow", "GET, HEAD")
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, constants.ErrorCodeMethodNotAllowed,
			fmt.Sprintf("Method %s not allowed", r.Method))
		return
	}

	out, err := s.pipeline.Render(ctx, name, pageContext(r))
	if err != nil {
		s.sendRenderError(w, r, name, err)
		return
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeHTML)
	if s.config.Templates.Development {
		w.Header().Set(constants.HeaderCacheControl, "no-store")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

// resolvePage maps a URL path onto a template name. "/" and paths ending in
// a slash use the index template. A path without an extension tries each
// configured extension against env and falls back to the first one. found
// reports whether env holds the resolved name.
func (s *Server) resolvePage(urlPath string, env *templates.Environment) (name string, found bool, err error) {
	name = strings.TrimPrefix(urlPath, "/")
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", false, errBadTemplateName
		}
	}
	if strings.ContainsRune(name, '\\') || strings.ContainsRune(name, 0) {
		return "", false, errBadTemplateName
	}

	has := func(candidate string) bool { return env != nil && env.Has(candidate) }

	if name == "" || strings.HasSuffix(name, "/") {
		name += s.config.Templates.Index
		return name, true, nil
	}

	if path.Ext(name) != "" {
		return name, has(name), nil
	}

	for _, ext := range s.config.Templates.Extensions {
		if has(name + ext) {
			return name + ext, true, nil
		}
	}
	if len(s.config.Templates.Extensions) > 0 {
		name += s.config.Templates.Extensions[0]
	}
	return name, has(name), nil
}

// pageContext exposes the request path and query to templates.
func pageContext(r *http.Request) pongo2.Context {
	values := r.URL.Query()
	query := make(map[string]string, len(values))
	for key, v := range values {
		if len(v) > 0 {
			query[key] = v[0]
		}
	}
	return pongo2.Context{
		"path":  r.URL.Path,
		"query": query,
	}
}

func isPageMethod(method string) bool {
	return slices.Contains([]string{http.MethodGet, http.MethodHead}, method)
}

// sendRenderError answers every pipeline failure with a 500. In development
// mode the page shows the error and still carries the reconnect script, so
// the tab reloads itself once the template is fixed.
func (s *Server) sendRenderError(w http.ResponseWriter, r *http.Request, name string, err error) {
	s.logger.Error("Failed to render template",
		zap.String("template", name),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	if !s.config.Templates.Development {
		s.sendErrorResponse(w, http.StatusInternalServerError, constants.ErrorCodeRenderFailed, "Internal Server Error")
		return
	}

	var page strings.Builder
	page.WriteString("<!DOCTYPE html>\n<html><head><title>Template error</title></head><body>\n")
	fmt.Fprintf(&page, "<h1>%s</h1>\n<pre>%s</pre>\n", html.EscapeString(errorTitle(err)), html.EscapeString(err.Error()))
	page.WriteString("</body></html>\n")

	body := page.String()
	if s.config.LiveReload.Enabled {
		body = render.Inject(body, render.ReconnectScript(s.config.LiveReload.Path, s.config.LiveReload.Retry))
	}

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeHTML)
	w.Header().Set(constants.HeaderCacheControl, "no-store")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(body))
}

func errorTitle(err error) string {
	var reloadErr *templates.ReloadError
	var renderErr *templates.RenderError
	switch {
	case errors.Is(err, templates.ErrTemplateNotFound):
		return "Template not found"
	case errors.As(err, &reloadErr):
		return "Templates failed to compile"
	case errors.As(err, &renderErr):
		return "Template failed to render"
	default:
		return "Internal Server Error"
	}
}

// sendErrorResponse sends a JSON error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
