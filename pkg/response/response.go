// Package response defines the JSON envelope every API handler replies with.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func write(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Body{Success: true, Data: data})
}

func fail(c *gin.Context, status int, err string) {
	c.JSON(status, Body{Success: false, Error: err})
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data interface{}) { write(c, http.StatusOK, data) }

// Created sends a 201 response with data.
func Created(c *gin.Context, data interface{}) { write(c, http.StatusCreated, data) }

// NoContent sends 204.
func NoContent(c *gin.Context) { c.Status(http.StatusNoContent) }

// BadRequest sends 400 with an error message.
func BadRequest(c *gin.Context, err string) { fail(c, http.StatusBadRequest, err) }

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) { fail(c, http.StatusUnauthorized, err) }

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) { fail(c, http.StatusForbidden, err) }

// NotFound sends 404.
func NotFound(c *gin.Context, err string) { fail(c, http.StatusNotFound, err) }

// Conflict sends 409. Used for state-machine refusals (starting a live
// session, posting to an ended one).
func Conflict(c *gin.Context, err string) { fail(c, http.StatusConflict, err) }

// Internal sends 500.
func Internal(c *gin.Context, err string) { fail(c, http.StatusInternalServerError, err) }
