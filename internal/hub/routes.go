package hub

import (
	"errors"
	"net/http"

	"sehat-saathi/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(svc *Service, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/webhook/emergency-trigger", func(c *gin.Context) {
		var payload models.EmergencyPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ev, err := svc.TriggerEmergency(c.Request.Context(), payload)
		if errors.Is(err, ErrInvalidEmergency) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			logger.Error("Failed to trigger emergency", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record emergency"})
			return
		}
		c.JSON(http.StatusCreated, models.EmergencyAck{ID: ev.ID})
	})

	r.POST("/doctors", func(c *gin.Context) {
		var d models.Doctor
		if err := c.ShouldBindJSON(&d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if d.HospitalName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hospital_name is required"})
			return
		}
		saved, err := svc.UpsertDoctor(c.Request.Context(), d)
		if err != nil {
			logger.Error("Failed to save doctor", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save doctor"})
			return
		}
		c.JSON(http.StatusOK, saved)
	})

	emergencies := r.Group("/emergencies/:id")
	{
		emergencies.GET("", func(c *gin.Context) {
			ev, err := svc.Emergency(c.Request.Context(), c.Param("id"))
			if IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "emergency not found"})
				return
			}
			if err != nil {
				logger.Error("Failed to load emergency", zap.String("emergency_id", c.Param("id")), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load emergency"})
				return
			}
			c.JSON(http.StatusOK, ev)
		})

		emergencies.GET("/responses", func(c *gin.Context) {
			rows, err := svc.Responses(c.Request.Context(), c.Param("id"))
			if err != nil {
				logger.Error("Failed to list responses", zap.String("emergency_id", c.Param("id")), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list responses"})
				return
			}
			c.JSON(http.StatusOK, rows)
		})

		emergencies.POST("/responses", func(c *gin.Context) {
			var sub models.ResponseSubmission
			if err := c.ShouldBindJSON(&sub); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			resp, err := svc.SubmitResponse(c.Request.Context(), c.Param("id"), sub)
			if IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "emergency not found"})
				return
			}
			if err != nil {
				logger.Error("Failed to record response", zap.String("emergency_id", c.Param("id")), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record response"})
				return
			}
			c.JSON(http.StatusCreated, resp)
		})
	}

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
