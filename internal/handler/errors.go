package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"spark/internal/domain"

	"github.com/gin-gonic/gin"
)

var statusByCode = map[string]int{
	domain.CodeSelfTarget:           http.StatusBadRequest,
	domain.CodeInvalidInput:         http.StatusBadRequest,
	domain.CodeUserNotFound:         http.StatusNotFound,
	domain.CodeAlreadyConnected:     http.StatusConflict,
	domain.CodeRequestPending:       http.StatusConflict,
	domain.CodeNoConnections:        http.StatusPaymentRequired,
	domain.CodeBlocked:              http.StatusForbidden,
	domain.CodeNoPendingRequest:     http.StatusNotFound,
	domain.CodeNotConnected:         http.StatusNotFound,
	domain.CodeNotExpired:           http.StatusConflict,
	domain.CodeTicketCap:            http.StatusUnprocessableEntity,
	domain.CodeInsufficientBalance:  http.StatusPaymentRequired,
	domain.CodePaymentNotSuccessful: http.StatusUnprocessableEntity,
	domain.CodeConflict:             http.StatusConflict,
	domain.CodePayerMismatch:        http.StatusForbidden,
	domain.CodeReferenceUsed:        http.StatusConflict,
}

// writeError renders err as {"error", "code"}. Errors without a domain code
// are logged and hidden behind a 500.
func writeError(c *gin.Context, op string, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Printf("[HTTP] %s: %v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
		return
	}
	status, ok := statusByCode[de.Code]
	if !ok {
		status = http.StatusBadRequest
	}
	body := gin.H{"error": de.Message, "code": de.Code}
	if de.Code == domain.CodeConflict {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// paramID parses a positive uint path parameter.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": domain.CodeInvalidInput})
		return 0, false
	}
	return uint(id), true
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
