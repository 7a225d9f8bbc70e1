package handlers

import "github.com/gin-gonic/gin"

// Stable error codes carried in the error envelope next to the HTTP status.
const (
	CodeValidation  = "validation_error"
	CodeForbidden   = "forbidden"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeDuplicate   = "duplicate_nonce"
	CodeEncryption  = "encryption_error"
	CodeInternal    = "internal_error"
)

// groupNotFoundMsg is returned both when the group does not exist and when
// the caller is not a member, so group existence never leaks to outsiders.
const groupNotFoundMsg = "group not found"

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": message, "code": code})
}
