package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/dbguest/internal/credential"
	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/lifecycle"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// isSafeAbsPath accepts an empty path or an absolute, already clean path.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" {
		trimmed = p
	}
	return clean == p || clean == trimmed
}

type errorResp struct {
	Error string `json:"error"`
	// Kind classifies the failure: busy, timeout, command, config, input.
	Kind string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// httpStatus maps controller errors onto HTTP status codes.
func httpStatus(err error) (int, string) {
	var timeout *lifecycle.TimeoutError
	var execErr *executor.ExecutionError
	var cfgErr *credential.ConfigError
	switch {
	case errors.Is(err, lifecycle.ErrOperationInProgress):
		return http.StatusConflict, "busy"
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &execErr):
		return http.StatusBadGateway, "command"
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, "config"
	case errors.Is(err, lifecycle.ErrNoVolumes):
		return http.StatusNotImplemented, "config"
	case errors.Is(err, history.ErrNoQuerier):
		return http.StatusNotFound, "config"
	}
	return http.StatusInternalServerError, ""
}

func writeError(c *gin.Context, err error) {
	code, kind := httpStatus(err)
	c.JSON(code, errorResp{Error: err.Error(), Kind: kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResp{Error: msg, Kind: "input"})
}
