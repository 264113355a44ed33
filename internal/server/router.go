package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/loykin/dbguest/internal/auth"
	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/lifecycle"
	"github.com/loykin/dbguest/internal/metrics"
	"github.com/loykin/dbguest/internal/monitor"
)

// Controller is the lifecycle surface exposed over HTTP.
type Controller interface {
	Prepare(ctx context.Context, req lifecycle.PrepareRequest) error
	Start(ctx context.Context, persist bool) error
	Stop(ctx context.Context, persist, doNotStartOnReboot bool) error
	Restart(ctx context.Context) error
	UpdateStatus(ctx context.Context)
	Snapshot() monitor.Snapshot
	History(ctx context.Context, limit int) ([]history.Event, error)
	MountVolume(ctx context.Context, device, mountPoint string) error
	UnmountVolume(ctx context.Context, device, mountPoint string) error
	ResizeFS(ctx context.Context, device, mountPoint string) error
	FilesystemStats(path string) (lifecycle.FilesystemStats, error)
}

// Options configure the router. Zero values disable the optional parts.
type Options struct {
	BasePath  string
	Instance  string
	Auth      *auth.Middleware
	Processes *metrics.ProcessCollector
	// Metrics mounts the prometheus handler at {basePath}/metrics.
	Metrics bool
}

// Router serves the agent API:
//
//	POST {basePath}/login
//	POST {basePath}/prepare          body: PrepareRequest JSON
//	POST {basePath}/start            query: persist
//	POST {basePath}/stop             query: persist, do_not_start_on_reboot
//	POST {basePath}/restart
//	POST {basePath}/status/update
//	GET  {basePath}/status
//	GET  {basePath}/history          query: limit
//	GET  {basePath}/fs               query: path
//	POST {basePath}/volume/mount     body: {"device","mount_point"}
//	POST {basePath}/volume/unmount
//	POST {basePath}/volume/resize
//	GET  {basePath}/process-metrics
//	GET  {basePath}/process-metrics/:pid
//	GET  {basePath}/metrics
type Router struct {
	ctrl Controller
	opts Options
}

func NewRouter(ctrl Controller, opts Options) *Router {
	opts.BasePath = sanitizeBase(opts.BasePath)
	return &Router{ctrl: ctrl, opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	base := g.Group(r.opts.BasePath)
	base.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	base.POST("/login", r.opts.Auth.Login)
	if r.opts.Metrics {
		base.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	m := r.opts.Auth
	api := base.Group("", m.GinAuth())
	write := m.GinRequirePermission(auth.ResourceDatastore, auth.ActionWrite)
	api.POST("/prepare", write, r.handlePrepare)
	api.POST("/start", write, r.handleStart)
	api.POST("/stop", write, r.handleStop)
	api.POST("/restart", write, r.handleRestart)

	api.POST("/status/update", m.GinRequirePermission(auth.ResourceStatus, auth.ActionWrite), r.handleUpdateStatus)
	readStatus := m.GinRequirePermission(auth.ResourceStatus, auth.ActionRead)
	api.GET("/status", readStatus, r.handleStatus)
	api.GET("/history", readStatus, r.handleHistory)
	api.GET("/process-metrics", readStatus, r.handleProcessMetrics)
	api.GET("/process-metrics/:pid", readStatus, r.handleProcessHistory)

	api.GET("/fs", m.GinRequirePermission(auth.ResourceVolume, auth.ActionRead), r.handleFilesystem)
	volWrite := m.GinRequirePermission(auth.ResourceVolume, auth.ActionWrite)
	api.POST("/volume/mount", volWrite, r.handleVolume(r.ctrl.MountVolume))
	api.POST("/volume/unmount", volWrite, r.handleVolume(r.ctrl.UnmountVolume))
	api.POST("/volume/resize", volWrite, r.handleVolume(r.ctrl.ResizeFS))
	return g
}

// opContext detaches lifecycle calls from the request so a dropped client
// does not abort an operation halfway.
func opContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func boolQuery(c *gin.Context, key string) (bool, bool) {
	v := c.Query(key)
	if v == "" {
		return false, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		badRequest(c, "invalid "+key+": "+v)
		return false, false
	}
	return b, true
}

type statusResp struct {
	Instance string `json:"instance,omitempty"`
	monitor.Snapshot
}

func (r *Router) status(c *gin.Context, code int) {
	c.JSON(code, statusResp{Instance: r.opts.Instance, Snapshot: r.ctrl.Snapshot()})
}

func (r *Router) handlePrepare(c *gin.Context) {
	var req lifecycle.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if !isSafeAbsPath(req.DevicePath) {
		badRequest(c, "invalid device_path: must be an absolute path without traversal")
		return
	}
	if !isSafeAbsPath(req.MountPoint) {
		badRequest(c, "invalid mount_point: must be an absolute path without traversal")
		return
	}
	if req.MemoryMB < 0 {
		badRequest(c, "invalid memory_mb")
		return
	}
	if err := r.ctrl.Prepare(opContext(c), req); err != nil {
		writeError(c, err)
		return
	}
	r.status(c, http.StatusOK)
}

func (r *Router) handleStart(c *gin.Context) {
	persist, ok := boolQuery(c, "persist")
	if !ok {
		return
	}
	if err := r.ctrl.Start(opContext(c), persist); err != nil {
		writeError(c, err)
		return
	}
	r.status(c, http.StatusOK)
}

func (r *Router) handleStop(c *gin.Context) {
	persist, ok := boolQuery(c, "persist")
	if !ok {
		return
	}
	noAutostart, ok := boolQuery(c, "do_not_start_on_reboot")
	if !ok {
		return
	}
	if err := r.ctrl.Stop(opContext(c), persist, noAutostart); err != nil {
		writeError(c, err)
		return
	}
	r.status(c, http.StatusOK)
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.ctrl.Restart(opContext(c)); err != nil {
		writeError(c, err)
		return
	}
	r.status(c, http.StatusOK)
}

func (r *Router) handleUpdateStatus(c *gin.Context) {
	r.ctrl.UpdateStatus(c.Request.Context())
	r.status(c, http.StatusOK)
}

func (r *Router) handleStatus(c *gin.Context) {
	r.status(c, http.StatusOK)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			badRequest(c, "invalid limit: must be 1..1000")
			return
		}
		limit = n
	}
	events, err := r.ctrl.History(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (r *Router) handleFilesystem(c *gin.Context) {
	path := c.Query("path")
	if !isSafeAbsPath(path) {
		badRequest(c, "invalid path: must be an absolute path without traversal")
		return
	}
	stats, err := r.ctrl.FilesystemStats(path)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// VolumeRequest names the block device and mount point of a volume call.
type VolumeRequest struct {
	Device     string `json:"device"`
	MountPoint string `json:"mount_point,omitempty"`
}

func (r *Router) handleVolume(op func(ctx context.Context, device, mountPoint string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VolumeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON: "+err.Error())
			return
		}
		if req.Device == "" || !isSafeAbsPath(req.Device) {
			badRequest(c, "device must be an absolute path")
			return
		}
		if !isSafeAbsPath(req.MountPoint) {
			badRequest(c, "invalid mount_point: must be an absolute path without traversal")
			return
		}
		if err := op(opContext(c), req.Device, req.MountPoint); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleProcessMetrics(c *gin.Context) {
	if !r.opts.Processes.Enabled() {
		c.JSON(http.StatusNotFound, errorResp{Error: "process metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, r.opts.Processes.Latest())
}

func (r *Router) handleProcessHistory(c *gin.Context) {
	if !r.opts.Processes.Enabled() {
		c.JSON(http.StatusNotFound, errorResp{Error: "process metrics disabled"})
		return
	}
	pid, err := strconv.ParseInt(c.Param("pid"), 10, 32)
	if err != nil || pid <= 0 {
		badRequest(c, "invalid pid")
		return
	}
	samples, ok := r.opts.Processes.History(int32(pid))
	if !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "no samples for pid " + c.Param("pid")})
		return
	}
	c.JSON(http.StatusOK, samples)
}
