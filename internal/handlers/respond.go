package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/chat"
)

// respondErr writes the error envelope for a service error. Internal errors
// are logged with their cause and returned opaque.
func respondErr(c *gin.Context, err error) {
	status := chat.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %s %s err=%v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"message": chat.Message(err),
		"code":    chat.Code(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": msg,
		"code":    "VALIDATION_ERROR",
	})
}

// pathID parses a positive integer path parameter and reports the failure
// itself, so handlers can bail with a bare return.
func pathID(c *gin.Context, name, label string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+label)
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
