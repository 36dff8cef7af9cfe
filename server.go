package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wildkamera.app/smsgw/modem"
)

const (
	serviceName    = "Wildkamera SMS Server"
	serviceVersion = "1.0.0"
)

// SMSRequest is the body of a send request.
type SMSRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	Message     string `json:"message" binding:"required"`
	CameraID    string `json:"camera_id,omitempty"`
}

// validate rejects requests whose number or text cannot be put on the
// modem line safely.
func (r SMSRequest) validate() error {
	return modem.ValidateMessage(r.PhoneNumber, r.Message)
}

func (r SMSRequest) job() Job {
	return Job{PhoneNumber: r.PhoneNumber, Text: r.Message, CameraID: r.CameraID}
}

// SMSResponse answers a successful send.
type SMSResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	SMSID     string `json:"sms_id,omitempty"`
}

// StatusResponse describes the service and modem state.
type StatusResponse struct {
	Status          string            `json:"status"`
	ModemConnected  bool              `json:"modem_connected"`
	ModemInfo       map[string]string `json:"modem_info"`
	PendingSMSCount int               `json:"pending_sms_count"`
}

// ModemConfigRequest reconnects the modem. Timeout is in seconds.
type ModemConfigRequest struct {
	Port     string `json:"port" binding:"required"`
	BaudRate int    `json:"baudrate"`
	Timeout  int    `json:"timeout"`
}

// BatchDetail is the outcome of one message of a batch.
type BatchDetail struct {
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// BatchResponse summarizes a batch send.
type BatchResponse struct {
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Details []BatchDetail `json:"details"`
}

// Server handles incoming HTTP requests for the gateway.
type Server struct {
	logger  *zap.Logger
	gateway *Gateway
	queue   *Queue
	token   string
}

func NewServer(gateway *Gateway, queue *Queue, token string, logger *zap.Logger) *Server {
	return &Server{
		logger:  logger.With(zap.String("component", "server")),
		gateway: gateway,
		queue:   queue,
		token:   token,
	}
}

// Router returns the HTTP handler with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests(), corsMiddleware())

	router.GET("/", s.handleRoot)
	router.GET("/status", s.handleStatus)
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	sms := router.Group("/sms", s.authorize())
	sms.POST("/send", s.handleSend)
	sms.POST("/send-batch", s.handleSendBatch)
	sms.POST("/queue", s.handleQueue)

	m := router.Group("/modem", s.authorize())
	m.POST("/configure", s.handleConfigure)
	m.GET("/ports", s.handlePorts)

	return router
}

// corsMiddleware allows any origin; the API is called from a web app served
// elsewhere.
func corsMiddleware() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	return cors.New(config)
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// authorize requires the configured bearer token, if any.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.sendError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
	}
}

// modemContext detaches modem work from the client connection. A cancelled
// exchange drops the modem session, which a client hanging up must not do.
func modemContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func isInvalidInput(err error) bool {
	return errors.Is(err, modem.ErrInvalidRecipient) || errors.Is(err, modem.ErrInvalidMessage)
}

func (s *Server) sendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"detail": message})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": serviceVersion,
		"status":  "running",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	connected, info := s.gateway.Status(modemContext(c))
	c.JSON(http.StatusOK, StatusResponse{
		Status:          "online",
		ModemConnected:  connected,
		ModemInfo:       info,
		PendingSMSCount: s.queue.Pending(),
	})
}

// handleSend sends one SMS synchronously.
func (s *Server) handleSend(c *gin.Context) {
	var req SMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := req.validate(); err != nil {
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	logger := s.logger.With(zap.String("to", req.PhoneNumber), zap.String("camera_id", req.CameraID))
	logger.Info("Sending SMS")

	err := s.gateway.Send(modemContext(c), req.PhoneNumber, req.Message)
	switch {
	case isInvalidInput(err):
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, modem.ErrNotConnected):
		s.sendError(c, http.StatusServiceUnavailable, "SMS modem is not connected, configure the modem first")
		return
	case err != nil:
		logger.Error("Failed to send SMS", zap.Error(err))
		s.sendError(c, http.StatusInternalServerError, "failed to send SMS: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, SMSResponse{
		Success:   true,
		Message:   "SMS sent",
		Timestamp: time.Now().Format(time.RFC3339),
		SMSID:     uuid.NewString(),
	})
}

// handleSendBatch sends several SMS one after another.
func (s *Server) handleSendBatch(c *gin.Context) {
	var reqs []SMSRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	messages := make([]Message, len(reqs))
	for i, r := range reqs {
		if err := r.validate(); err != nil {
			s.sendError(c, http.StatusBadRequest, fmt.Sprintf("message %d: %v", i, err))
			return
		}
		messages[i] = Message{PhoneNumber: r.PhoneNumber, Text: r.Message}
	}

	results, err := s.gateway.SendBatch(modemContext(c), messages)
	if errors.Is(err, modem.ErrNotConnected) {
		s.sendError(c, http.StatusServiceUnavailable, "SMS modem is not connected")
		return
	}

	resp := BatchResponse{Total: len(reqs), Details: make([]BatchDetail, 0, len(reqs))}
	for i, result := range results {
		detail := BatchDetail{PhoneNumber: reqs[i].PhoneNumber, Status: "success"}
		if result != nil {
			detail.Status = batchStatus(result)
			detail.Error = result.Error()
			resp.Failed++
		} else {
			resp.Success++
		}
		resp.Details = append(resp.Details, detail)
	}
	c.JSON(http.StatusOK, resp)
}

// batchStatus tells a refused message ("failed") from one the driver could
// not attempt because the modem went away ("error").
func batchStatus(err error) string {
	if errors.Is(err, modem.ErrTransportLost) || errors.Is(err, modem.ErrNotConnected) {
		return "error"
	}
	return "failed"
}

// handleQueue accepts an SMS for asynchronous sending.
func (s *Server) handleQueue(c *gin.Context) {
	var req SMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := req.validate(); err != nil {
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.queue.Enqueue(req.job())
	if err != nil {
		s.sendError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "sms_id": id})
}

func (s *Server) handleConfigure(c *gin.Context) {
	var req ModemConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendError(c, http.StatusBadRequest, err.Error())
		return
	}

	settings := ModemSettings{Port: req.Port, BaudRate: req.BaudRate, Timeout: time.Duration(req.Timeout) * time.Second}
	info, err := s.gateway.Configure(modemContext(c), settings)
	if err != nil {
		s.logger.Error("Failed to configure modem", zap.String("port", req.Port), zap.Error(err))
		s.sendError(c, http.StatusInternalServerError, "failed to configure modem: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Modem configured",
		"modem_info": info,
	})
}

func (s *Server) handlePorts(c *gin.Context) {
	ports, err := s.gateway.Ports()
	if err != nil {
		s.logger.Error("Failed to list ports", zap.Error(err))
		s.sendError(c, http.StatusInternalServerError, "failed to list ports: "+err.Error())
		return
	}
	if ports == nil {
		ports = []modem.PortDescriptor{}
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports, "count": len(ports)})
}
