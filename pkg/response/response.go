package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"safechain/pkg/errors"
)

// Body is the JSON envelope every handler returns.
type Body struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: message, Data: data})
}

func Fail(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusBadRequest, Body{Code: errors.CodeValidation, Message: message, Data: data})
}

// Error maps a pipeline error to an HTTP status by its code.
func Error(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeValidation:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeAlreadyIssued:
		status = http.StatusConflict
	case errors.CodeRejected:
		status = http.StatusUnprocessableEntity
	case errors.CodeLedgerUnavailable, errors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case errors.CodeTampered:
		status = http.StatusBadGateway
	}
	c.JSON(status, Body{Code: code, Message: err.Error()})
}
