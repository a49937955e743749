// Package handler exposes the attendance, device and account operations over
// HTTP with gin.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainattend/internal/account"
	"chainattend/internal/attendance"
	"chainattend/internal/auth"
	"chainattend/internal/cloudinary"
	"chainattend/internal/faceclient"
	"chainattend/internal/integrity"
	"chainattend/internal/logger"
	"chainattend/internal/queue"
)

// Uploader stores a base64 frame and returns where it lives.
type Uploader interface {
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
}

// Enroller adds a face to the recognition gallery.
type Enroller interface {
	Enroll(ctx context.Context, userID, imageURL, name string) (*faceclient.EnrollResult, error)
}

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) bool

// Handler serves the API.
type Handler struct {
	Attendance *attendance.Service
	Accounts   *account.Service
	Issuer     auth.Issuer
	Uploader   Uploader    // nil when image storage is not configured
	Faces      Enroller
	Frames     queue.Queue // receives frame messages for the recognizer
	Checks     map[string]Check
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.health)

	r.POST("/attendance", h.submitAttendance)
	r.POST("/v1/attendance/verify", h.verifyAttendance)
	r.POST("/v1/devices/register", h.registerDevice)
	r.POST("/v1/users", h.registerUser)
	r.POST("/login", h.login)
	r.POST("/login/otp", h.loginOTP)

	r.GET("/v1/attendance", auth.RequireRole(h.Issuer, auth.RoleUser, auth.RoleDevice), h.listAttendance)
	r.POST("/v1/frames", auth.RequireRole(h.Issuer, auth.RoleDevice), h.uploadFrame)
	r.POST("/v1/faces", auth.RequireRole(h.Issuer, auth.RoleUser), h.enrollFace)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// attendanceRequest accepts the timestamp as a JSON number or a digit string.
type attendanceRequest struct {
	Name      string          `json:"name"`
	Timestamp json.RawMessage `json:"timestamp"`
	Hash      string          `json:"hash"`
}

func (r attendanceRequest) payload() (integrity.Payload, error) {
	raw := strings.TrimSpace(string(r.Timestamp))
	if raw == "" || raw == "null" {
		return integrity.Payload{}, fmt.Errorf("%w: timestamp required", integrity.ErrInvalidInput)
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(r.Timestamp, &s); err != nil {
			return integrity.Payload{}, fmt.Errorf("%w: bad timestamp", integrity.ErrInvalidInput)
		}
		raw = s
	}
	ts, err := integrity.ParseTimestamp(raw)
	if err != nil {
		return integrity.Payload{}, err
	}
	if r.Hash == "" {
		return integrity.Payload{}, fmt.Errorf("%w: hash required", integrity.ErrInvalidInput)
	}
	return integrity.Payload{Name: r.Name, Timestamp: ts, Hash: r.Hash}, nil
}

func bindPayload(c *gin.Context) (integrity.Payload, bool) {
	var req attendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid JSON body", CodeInvalidInput)
		return integrity.Payload{}, false
	}
	p, err := req.payload()
	if err != nil {
		fail(c, err)
		return integrity.Payload{}, false
	}
	return p, true
}

func (h *Handler) submitAttendance(c *gin.Context) {
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	res, err := h.Attendance.Accept(c.Request.Context(), p, attendance.SourceAPI)
	if err != nil {
		fail(c, err)
		return
	}
	if res.Duplicate {
		c.JSON(http.StatusOK, gin.H{
			"message":   "Attendance already recorded",
			"timestamp": res.Record.Timestamp,
			"id":        res.Record.ID,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":   "Attendance recorded",
		"timestamp": res.Record.Timestamp,
		"id":        res.Record.ID,
	})
}

func (h *Handler) verifyAttendance(c *gin.Context) {
	p, ok := bindPayload(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.Attendance.Verify(p)})
}

func (h *Handler) listAttendance(c *gin.Context) {
	f := attendance.Filter{
		Name:   c.Query("name"),
		Status: c.Query("status"),
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	recs, err := h.Attendance.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), CodeInvalidInput)
		return
	}
	ctx := c.Request.Context()
	if err := h.Attendance.RegisterDevice(ctx, req.DeviceID); err != nil {
		fail(c, err)
		return
	}
	tokens, err := h.Accounts.IssueDevice(ctx, req.DeviceID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *Handler) uploadFrame(c *gin.Context) {
	if h.Uploader == nil {
		writeError(c, http.StatusServiceUnavailable, "image storage not configured", CodeUnavailable)
		return
	}
	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, `provide {"data": "<base64 data URL>"}`, CodeInvalidInput)
		return
	}
	ctx := c.Request.Context()
	result, err := h.Uploader.UploadBase64(ctx, body.Data)
	if err != nil {
		logger.ErrorContext(ctx, "frame upload failed", "error", err)
		writeError(c, http.StatusBadGateway, "image upload failed", CodeUnavailable)
		return
	}
	queued := false
	if h.Frames != nil {
		msg := queue.Message{Type: queue.TypeFrame, Body: []byte(result.SecureURL)}
		if err := h.Frames.Publish(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "frame enqueue failed", "url", result.SecureURL, "error", err)
		} else {
			queued = true
		}
	}
	c.JSON(http.StatusAccepted, gin.H{
		"url":       result.SecureURL,
		"public_id": result.PublicID,
		"queued":    queued,
	})
}

// enrollFace stores a reference image and enrolls it under name, the name
// attendance is later recorded with. user_id defaults to the caller.
func (h *Handler) enrollFace(c *gin.Context) {
	if h.Uploader == nil || h.Faces == nil {
		writeError(c, http.StatusServiceUnavailable, "face enrollment not configured", CodeUnavailable)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Name   string `json:"name" binding:"required"`
		Data   string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, `provide {"name": "...", "data": "<base64 image>"}`, CodeInvalidInput)
		return
	}
	if req.UserID == "" {
		claims, _ := auth.FromContext(c)
		req.UserID = claims.Subject
	}

	ctx := c.Request.Context()
	img, err := h.Uploader.UploadBase64(ctx, req.Data)
	if err != nil {
		logger.ErrorContext(ctx, "face image upload failed", "error", err)
		writeError(c, http.StatusBadGateway, "image upload failed", CodeUnavailable)
		return
	}
	res, err := h.Faces.Enroll(ctx, req.UserID, img.SecureURL, req.Name)
	if err != nil {
		logger.ErrorContext(ctx, "face enrollment failed", "user_id", req.UserID, "error", err)
		writeError(c, http.StatusBadGateway, "face service error", CodeUnavailable)
		return
	}
	if !res.Success {
		writeError(c, http.StatusUnprocessableEntity, res.Message, CodeInvalidInput)
		return
	}
	logger.InfoContext(ctx, "face enrolled", "user_id", req.UserID, "name", req.Name)
	c.JSON(http.StatusCreated, gin.H{
		"user_id":   req.UserID,
		"name":      req.Name,
		"image_url": img.SecureURL,
		"quality":   res.Quality,
	})
}

func (h *Handler) registerUser(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), CodeInvalidInput)
		return
	}
	u, err := h.Accounts.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), CodeInvalidInput)
		return
	}
	if err := h.Accounts.BeginLogin(c.Request.Context(), req.Name, req.Password); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"otp_required": true})
}

func (h *Handler) loginOTP(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), CodeInvalidInput)
		return
	}
	tokens, err := h.Accounts.CompleteLogin(c.Request.Context(), req.Name, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}
