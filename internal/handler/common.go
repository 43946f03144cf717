package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextOwnerKey 认证中间件写入的 owner id
const ContextOwnerKey = "user_id"

// ownerID 统一的 owner 读取工具
func ownerID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextOwnerKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	id, ok := v.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	return id, true
}
