package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/interfaces/http/dto"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "X-Request-ID"

// TenantHeaderKey is the header that scopes a request to one tenant.
// Requests without it operate on the global scope.
const TenantHeaderKey = "X-Tenant-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	if id := c.GetHeader(RequestIDKey); id != "" {
		return id
	}
	return ""
}

// getTenantID extracts the tenant ID from the request. An absent header is
// not an error: it means the caller works on globally scoped integrations.
func getTenantID(c *gin.Context) (uuid.UUID, error) {
	tenantIDStr := c.GetString("tenant_id")
	if tenantIDStr == "" {
		tenantIDStr = c.GetHeader(TenantHeaderKey)
	}
	if tenantIDStr == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(tenantIDStr)
}

// requestScope maps the tenant header onto an adapter scope: a tenant header
// selects that tenant's catalog, no header selects the global one.
func requestScope(c *gin.Context) (integration.Scope, error) {
	tenantID, err := getTenantID(c)
	if err != nil {
		return integration.Scope{}, err
	}
	if tenantID == uuid.Nil {
		return integration.GlobalScope(), nil
	}
	return integration.TenantScope(tenantID), nil
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	requestID := getRequestID(c)
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, requestID))
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	statusCode := dto.GetHTTPStatus(code)
	requestID := getRequestID(c)
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, requestID))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 forbidden response
func (h *BaseHandler) Forbidden(c *gin.Context, message string) {
	h.Error(c, http.StatusForbidden, dto.ErrCodeForbidden, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, message string) {
	h.Error(c, http.StatusConflict, dto.ErrCodeConflict, message)
}

// UnprocessableEntity sends a 422 unprocessable entity response
func (h *BaseHandler) UnprocessableEntity(c *gin.Context, code, message string) {
	h.Error(c, http.StatusUnprocessableEntity, code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ServiceUnavailable sends a 503 service unavailable response
func (h *BaseHandler) ServiceUnavailable(c *gin.Context, code, message string) {
	h.Error(c, http.StatusServiceUnavailable, code, message)
}

// TooManyRequests sends a 429 too many requests response
func (h *BaseHandler) TooManyRequests(c *gin.Context, message string) {
	h.Error(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, details []dto.ValidationDetail) {
	requestID := getRequestID(c)
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse(
		"Request validation failed",
		requestID,
		details,
	))
}

// sentinelErrorCode maps integration sentinel errors to response codes.
// Returns empty when the error matches none of them.
func sentinelErrorCode(err error) string {
	switch {
	case errors.Is(err, integration.ErrAdapterNotFound),
		errors.Is(err, integration.ErrPipelineNotFound),
		errors.Is(err, integration.ErrSubscriptionNotFound):
		return dto.ErrCodeNotFound
	case errors.Is(err, integration.ErrDuplicateAdapter),
		errors.Is(err, integration.ErrDuplicatePipeline):
		return dto.ErrCodeAlreadyExists
	case errors.Is(err, integration.ErrPipelineRunning):
		return dto.ErrCodeConflict
	case errors.Is(err, integration.ErrPipelineStopped):
		return dto.ErrCodeInvalidState
	case errors.Is(err, integration.ErrAdapterNotConnected):
		return dto.ErrCodeNotConnected
	case errors.Is(err, integration.ErrCircuitBreakerOpen):
		return dto.ErrCodeCircuitOpen
	case errors.Is(err, integration.ErrManagerNotRunning):
		return dto.ErrCodeServiceUnavailable
	case errors.Is(err, integration.ErrInvalidConfig):
		return dto.ErrCodeInvalidConfig
	case errors.Is(err, integration.ErrUnsupportedSystemType),
		errors.Is(err, integration.ErrNoConstructorForType):
		return dto.ErrCodeUnsupportedType
	}
	return ""
}

// kindErrorCode maps an integration error kind to a response code.
func kindErrorCode(kind integration.ErrorKind) string {
	switch kind {
	case integration.ErrorKindValidation:
		return dto.ErrCodeValidation
	case integration.ErrorKindConfiguration:
		return dto.ErrCodeInvalidConfig
	case integration.ErrorKindAuthentication:
		return dto.ErrCodeUnauthorized
	case integration.ErrorKindTransformation:
		return dto.ErrCodeTransformation
	case integration.ErrorKindTimeout:
		return dto.ErrCodeUpstreamTimeout
	case integration.ErrorKindConnection, integration.ErrorKindCommunication:
		return dto.ErrCodeUpstreamUnavailable
	default:
		return dto.ErrCodeInternal
	}
}

// HandleDomainError converts domain and integration errors to HTTP responses.
// Sentinel errors are matched first so a wrapped breaker-open stays a 503
// regardless of how the failure was classified on the way up.
func (h *BaseHandler) HandleDomainError(c *gin.Context, err error) {
	requestID := getRequestID(c)

	if code := sentinelErrorCode(err); code != "" {
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, err.Error(), requestID))
		return
	}

	var ierr *integration.IntegrationError
	if errors.As(err, &ierr) {
		code := kindErrorCode(ierr.Kind)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, ierr.Message, requestID))
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	// Unknown error type - return as internal error
	h.InternalError(c, "An unexpected error occurred")
}

// HandleError is a generic error handler for both typed and standard errors
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	h.HandleDomainError(c, err)
}
