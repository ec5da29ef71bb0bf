package response

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"

	"github.com/xxxsen/pdfqa/internal/pkg/errcode"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
)

// apiError carries the numeric code proxyutil puts in the envelope.
type apiError struct {
	code    uint32
	message string
}

func (e *apiError) Error() string { return e.message }

func (e *apiError) Code() uint32 { return e.code }

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, &apiError{code: uint32(code), message: message})
}

// Abort writes the failure envelope and stops the handler chain.
func Abort(c *gin.Context, code int, message string) {
	Error(c, code, message)
	c.Abort()
}

// failure maps a sentinel to its code. An empty message means the error
// text itself is safe to return.
type failure struct {
	target  error
	code    int
	message string
}

// checked in order, the mismatch sentinel also matches ErrConfig
var failures = []failure{
	{appErr.ErrNotFound, errcode.ErrNotFound, "not found"},
	{appErr.ErrInvalid, errcode.ErrInvalid, ""},
	{appErr.ErrConflict, errcode.ErrConflict, "conflict"},
	{appErr.ErrTooMany, errcode.ErrTooMany, "too many requests"},
	{appErr.ErrConversion, errcode.ErrConversion, "failed to extract text from document"},
	{appErr.ErrProviderMismatch, errcode.ErrConfig, "vector store was built with a different embedding model"},
	{appErr.ErrConfig, errcode.ErrConfig, "service is not configured"},
	{appErr.ErrProvider, errcode.ErrProvider, "ai provider request failed"},
	{context.DeadlineExceeded, errcode.ErrProvider, "request timed out"},
	{appErr.ErrIO, errcode.ErrStorage, "storage error"},
}

// Classify returns the envelope code and client message for err.
func Classify(err error) (int, string) {
	for _, f := range failures {
		if !errors.Is(err, f.target) {
			continue
		}
		if f.message == "" {
			return f.code, err.Error()
		}
		return f.code, f.message
	}
	return errcode.ErrInternal, "internal error"
}

func Fail(c *gin.Context, err error) {
	code, message := Classify(err)
	Error(c, code, message)
}
