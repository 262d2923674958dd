// Package api exposes the complaint resolver over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/songzhibin97/complaint-engine/service"
	"github.com/songzhibin97/complaint-engine/storage"
	"github.com/songzhibin97/complaint-engine/types"
)

// Resolver is the part of service.Resolver the handlers use.
type Resolver interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.Submission, error)
	Get(ctx context.Context, id string) (types.ComplaintRecord, error)
	List(ctx context.Context, f storage.ComplaintFilter) ([]types.ComplaintRecord, error)
	Update(ctx context.Context, id string, patch service.ComplaintPatch) (types.ComplaintRecord, error)
	Audit(ctx context.Context, id string) ([]types.AuditEntry, error)
	CreateCustomer(ctx context.Context, c types.Customer) (types.Customer, error)
	GetCustomer(ctx context.Context, id string) (types.Customer, error)
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type createComplaintRequest struct {
	RawText       string `json:"raw_text" binding:"required,max=20000"`
	Channel       string `json:"channel" binding:"required,oneof=email chat social phone crm"`
	CustomerID    string `json:"customer_id" binding:"omitempty,max=100"`
	CustomerEmail string `json:"customer_email" binding:"omitempty,email"`
	CustomerName  string `json:"customer_name" binding:"omitempty,max=255"`
}

type listComplaintsQuery struct {
	Status     string `form:"status" binding:"omitempty,oneof=new in_progress pending_review escalated resolved closed"`
	Priority   string `form:"priority" binding:"omitempty,oneof=critical high medium low minimal"`
	Channel    string `form:"channel" binding:"omitempty,oneof=email chat social phone crm"`
	CustomerID string `form:"customer_id"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

type updateComplaintRequest struct {
	Status            *string  `json:"status" binding:"omitempty,oneof=new in_progress pending_review escalated resolved closed"`
	AssignedTo        *string  `json:"assigned_to" binding:"omitempty,max=255"`
	FinalResponse     *string  `json:"final_response"`
	ResolutionSummary *string  `json:"resolution_summary"`
	SatisfactionScore *float64 `json:"satisfaction_score" binding:"omitempty,min=1,max=5"`
}

type createCustomerRequest struct {
	ID               string  `json:"id" binding:"omitempty,max=100"`
	Email            string  `json:"email" binding:"omitempty,email"`
	Name             string  `json:"name" binding:"omitempty,max=255"`
	Phone            string  `json:"phone" binding:"omitempty,max=50"`
	Tier             string  `json:"tier" binding:"omitempty,oneof=Standard Silver Gold Platinum"`
	LifetimeValue    float64 `json:"lifetime_value" binding:"min=0"`
	PreferredChannel string  `json:"preferred_channel" binding:"omitempty,oneof=email chat social phone crm"`
	Language         string  `json:"language" binding:"omitempty,max=10"`
	Timezone         string  `json:"timezone" binding:"omitempty,max=64"`
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// CreateComplaint runs a new complaint through the workflow and stores it.
func CreateComplaint(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createComplaintRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		sub, err := resolver.Submit(c.Request.Context(), service.SubmitRequest{
			RawText:       req.RawText,
			Channel:       types.Channel(req.Channel),
			CustomerID:    req.CustomerID,
			CustomerEmail: req.CustomerEmail,
			CustomerName:  req.CustomerName,
		})
		if err != nil {
			fail(c, logger, "submit complaint failed", err)
			return
		}
		c.JSON(http.StatusCreated, sub)
	}
}

func ListComplaints(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q listComplaintsQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err)
			return
		}

		records, err := resolver.List(c.Request.Context(), storage.ComplaintFilter{
			Status:        types.ComplaintStatus(q.Status),
			PriorityLevel: types.PriorityLevel(q.Priority),
			Channel:       types.Channel(q.Channel),
			CustomerID:    q.CustomerID,
			Limit:         q.Limit,
			Offset:        q.Offset,
		})
		if err != nil {
			fail(c, logger, "list complaints failed", err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func GetComplaint(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := resolver.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, logger, "get complaint failed", err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func UpdateComplaint(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateComplaintRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		patch := service.ComplaintPatch{
			AssignedTo:        req.AssignedTo,
			FinalResponse:     req.FinalResponse,
			ResolutionSummary: req.ResolutionSummary,
			SatisfactionScore: req.SatisfactionScore,
		}
		if req.Status != nil {
			status := types.ComplaintStatus(*req.Status)
			patch.Status = &status
		}

		record, err := resolver.Update(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			fail(c, logger, "update complaint failed", err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func GetComplaintAudit(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := resolver.Audit(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, logger, "get audit failed", err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func CreateCustomer(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCustomerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		customer, err := resolver.CreateCustomer(c.Request.Context(), types.Customer{
			ID:               req.ID,
			Email:            req.Email,
			Name:             req.Name,
			Phone:            req.Phone,
			Tier:             req.Tier,
			LifetimeValue:    req.LifetimeValue,
			PreferredChannel: req.PreferredChannel,
			Language:         req.Language,
			Timezone:         req.Timezone,
		})
		if err != nil {
			fail(c, logger, "create customer failed", err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func GetCustomer(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		customer, err := resolver.GetCustomer(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, logger, "get customer failed", err)
			return
		}
		c.JSON(http.StatusOK, customer)
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
}

// fail maps resolver errors to status codes. Only unexpected errors are logged.
func fail(c *gin.Context, logger *zap.Logger, msg string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound})
	case errors.Is(err, storage.ErrCustomerExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeConflict})
	case errors.Is(err, service.ErrEmptyText),
		errors.Is(err, service.ErrInvalidChannel),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidScore):
		badRequest(c, err)
	default:
		logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg, Code: CodeInternal})
	}
}
