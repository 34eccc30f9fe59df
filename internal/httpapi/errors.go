package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/store"
)

var errBadFrame = errors.New("frame required: multipart field \"image\" or JSON {\"data\": \"<base64>\"}")

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalid),
		errors.Is(err, attendance.ErrNoSubject),
		errors.Is(err, errBadFrame):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, attendance.ErrUnknownSubject):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateKey),
		errors.Is(err, attendance.ErrSessionActive),
		errors.Is(err, attendance.ErrNoSession),
		errors.Is(err, attendance.ErrFramesClosed):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNoDetection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrCamera),
		errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status statusFor picks. Server-side errors are
// logged and not echoed.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
