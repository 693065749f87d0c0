// Package response writes the JSON envelope every HTTP endpoint answers with.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data any) { c.JSON(http.StatusOK, Body{Success: true, Data: data}) }

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data any) { c.JSON(http.StatusCreated, Body{Success: true, Data: data}) }

// Accepted sends a 202 for work handed to a background worker.
func Accepted(c *gin.Context, data any) { c.JSON(http.StatusAccepted, Body{Success: true, Data: data}) }

// Fail sends an error envelope with the given status and aborts the chain.
func Fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Body{Success: false, Error: msg})
}

func BadRequest(c *gin.Context, msg string)   { Fail(c, http.StatusBadRequest, msg) }
func Unauthorized(c *gin.Context, msg string) { Fail(c, http.StatusUnauthorized, msg) }
func Forbidden(c *gin.Context, msg string)    { Fail(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)     { Fail(c, http.StatusNotFound, msg) }

// TooManyRequests is sent when a source refresh is still inside its throttle interval.
func TooManyRequests(c *gin.Context, msg string) { Fail(c, http.StatusTooManyRequests, msg) }

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, msg string) { Fail(c, http.StatusServiceUnavailable, msg) }

// Internal sends 500 without leaking the cause.
func Internal(c *gin.Context) { Fail(c, http.StatusInternalServerError, "internal error") }
